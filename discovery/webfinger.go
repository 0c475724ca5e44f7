package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/uauth/uauth-go/util/ssrf"

	"github.com/google/go-querystring/query"
)

// Resolves the WebFinger JRD for a user at a domain. `user` may be empty, in which case the resource is the bare domain.
type WebFingerResolver interface {
	Resolve(ctx context.Context, domain, user, rel, fallbackIssuer string) (*JRD, error)
}

// Resource identifier for a user at a domain: `acct:user@domain`, or just the domain.
func ResourceFor(domain, user string) string {
	if user == "" {
		return domain
	}
	return fmt.Sprintf("acct:%s@%s", user, domain)
}

// Record key holding the webfinger pointer for a user and link relation.
func RecordKey(user, rel string) string {
	return fmt.Sprintf("webfinger.%s.%s", user, rel)
}

// Default [WebFingerResolver], driven by domain records.
type RecordWebFingerResolver struct {
	Domains DomainResolver

	// Used for `host` and http(s) `uri` records. Those URLs come from third-party records, so the default client refuses non-public addresses.
	Client *http.Client
	IPFS   *IPFSResolver
	Logger *slog.Logger
}

var _ WebFingerResolver = (*RecordWebFingerResolver)(nil)

func NewRecordWebFingerResolver(domains DomainResolver) *RecordWebFingerResolver {
	client := ssrf.PublicOnlyClient(10 * time.Second)
	return &RecordWebFingerResolver{
		Domains: domains,
		Client:  client,
		IPFS:    NewIPFSResolver(client),
		Logger:  slog.Default().With("component", "webfinger"),
	}
}

type webfingerQuery struct {
	Resource string `url:"resource"`
	Rel      string `url:"rel"`
}

func (r *RecordWebFingerResolver) Resolve(ctx context.Context, domain, user, rel, fallbackIssuer string) (*JRD, error) {
	key := RecordKey(user, rel)
	resource := ResourceFor(domain, user)

	records, err := r.Domains.Records(ctx, domain, []string{key})
	if err != nil {
		return nil, fmt.Errorf("domain record lookup failed: %w", err)
	}

	raw := records[key]
	if raw == "" {
		r.Logger.Debug("no webfinger record, using fallback issuer", "domain", domain, "fallbackIssuer", fallbackIssuer)
		return &JRD{
			Subject: resource,
			Links:   []Link{{Rel: rel, Href: fallbackIssuer}},
		}, nil
	}

	rec, err := ParseWebFingerRecord(raw)
	if err != nil {
		return nil, err
	}

	var doc JRD
	switch {
	case rec.Host != nil:
		params, err := query.Values(webfingerQuery{Resource: resource, Rel: rel})
		if err != nil {
			return nil, err
		}
		u := url.URL{
			Scheme:   "https",
			Host:     *rec.Host,
			Path:     "/.well-known/webfinger",
			RawQuery: params.Encode(),
		}
		if err := fetchJSON(ctx, r.Client, r.Logger, u.String(), &doc); err != nil {
			return nil, fmt.Errorf("bad webfinger response: %w", err)
		}
	case rec.URI != nil:
		u, err := url.Parse(*rec.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		switch u.Scheme {
		case "http", "https":
			if err := fetchJSON(ctx, r.Client, r.Logger, u.String(), &doc); err != nil {
				return nil, fmt.Errorf("bad webfinger response: %w", err)
			}
		case "ipfs":
			body, err := r.IPFS.Resolve(ctx, *rec.URI)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal([]byte(body), &doc); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidJRD, err)
			}
		default:
			// includes ipns: and swarm:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	case rec.Value != nil:
		if err := json.Unmarshal([]byte(*rec.Value), &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJRD, err)
		}
	}

	if !doc.Valid() {
		return nil, ErrInvalidJRD
	}
	if doc.Subject != resource {
		r.Logger.Warn("webfinger subject mismatch", "resource", resource, "subject", doc.Subject)
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrResourceMismatch, resource, doc.Subject)
	}
	return &doc, nil
}

// In-memory [WebFingerResolver], for tests and local development.
type MemoryWebFingerResolver struct {
	mu   sync.RWMutex
	docs map[string]JRD
}

var _ WebFingerResolver = (*MemoryWebFingerResolver)(nil)

func NewMemoryWebFingerResolver() *MemoryWebFingerResolver {
	return &MemoryWebFingerResolver{
		docs: make(map[string]JRD),
	}
}

func memWebFingerKey(domain, user, rel string) string {
	return domain + "." + user + "." + rel
}

func (m *MemoryWebFingerResolver) Set(domain, user, rel string, doc JRD) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[memWebFingerKey(domain, user, rel)] = doc
}

func (m *MemoryWebFingerResolver) Resolve(ctx context.Context, domain, user, rel, fallbackIssuer string) (*JRD, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[memWebFingerKey(domain, user, rel)]
	if !ok {
		return &JRD{
			Subject: domain,
			Links:   []Link{{Rel: rel, Href: fallbackIssuer}},
		}, nil
	}
	return &doc, nil
}
