// Package version tracks the names and versions of the packages making up a login client, so that host applications can report them and the protocol engine can attach them to authorization requests.
package version

import (
	"sort"
	"sync"

	"github.com/carlmjohnson/versioninfo"
)

// Name this module reports itself as.
const ModuleName = "uauth-go"

// Registry of package name to version string. Safe for concurrent use.
//
// The first registered package is the "primary" one, which is what gets sent to authorization servers as `package_name` and `package_version`.
type Registry struct {
	mu       sync.RWMutex
	primary  string
	versions map[string]string
}

// Creates a registry with this module already registered, using the build information embedded in the binary.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	r.Register(ModuleName, versioninfo.Short())
	return r
}

func NewEmptyRegistry() *Registry {
	return &Registry{
		versions: make(map[string]string),
	}
}

// Register records (or overwrites) the version for a package name.
func (r *Registry) Register(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primary == "" {
		r.primary = name
	}
	r.versions[name] = version
}

// SetPrimary makes an already-registered (or new) package the one reported to servers. Wallet adapters and other integrations use this to identify themselves.
func (r *Registry) SetPrimary(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.primary = name
	r.versions[name] = version
}

func (r *Registry) Primary() (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		return "", ""
	}
	return r.primary, r.versions[r.primary]
}

func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[name]
	return v, ok
}

// Versions returns a copy of all registered versions.
func (r *Registry) Versions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.versions))
	for k, v := range r.versions {
		out[k] = v
	}
	return out
}

// Names returns registered package names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.versions))
	for k := range r.versions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
