package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var errLocationPending = errors.New("callback not received yet")

// LoopbackPopup is a [Popup] for command-line tools: the authorization URL is opened in the system browser, and a local HTTP server on the redirect URI receives the callback.
//
// Authorization responses arrive in the URL fragment, which browsers do not send to servers, so the redirect page posts the fragment back with a small script.
type LoopbackPopup struct {
	// Opens a URL for the user, eg by launching a browser or printing it
	Browser func(url string) error

	redirectURI string
	listener    net.Listener
	srv         *http.Server
	logger      *slog.Logger

	lk       sync.Mutex
	location string
	closed   bool
}

var _ Popup = (*LoopbackPopup)(nil)

const loopbackPage = `<!DOCTYPE html>
<html>
<head><title>Login</title></head>
<body>
<p id="status">Completing login...</p>
<script>
fetch(window.location.pathname, {
  method: "POST",
  headers: {"Content-Type": "application/x-www-form-urlencoded"},
  body: "fragment=" + encodeURIComponent(window.location.hash.substring(1)),
}).then(function () {
  document.getElementById("status").textContent = "Login complete. You may close this window.";
});
</script>
</body>
</html>
`

// NewLoopbackPopup starts listening on the host and port of an `http` redirect URI.
func NewLoopbackPopup(redirectURI string, browser func(url string) error) (*LoopbackPopup, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect URI: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("%w: loopback redirect URI must be an http URL: %s", ErrInvalidConfig, redirectURI)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("listening for callback: %w", err)
	}

	p := &LoopbackPopup{
		Browser:     browser,
		redirectURI: redirectURI,
		listener:    ln,
		logger:      slog.Default().With("component", "loopback"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprint(w, loopbackPage)
	})
	mux.HandleFunc("POST "+path, p.handleFragment)
	p.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("loopback server failed", "err", err)
		}
	}()
	return p, nil
}

func (p *LoopbackPopup) handleFragment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	base, err := url.Parse(p.redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect URI", http.StatusInternalServerError)
		return
	}
	base.Fragment = ""
	base.RawFragment = ""

	p.lk.Lock()
	p.location = base.String() + "#" + r.PostForm.Get("fragment")
	p.lk.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// Addr is the address the callback server is listening on.
func (p *LoopbackPopup) Addr() net.Addr {
	return p.listener.Addr()
}

func (p *LoopbackPopup) Navigate(u string) error {
	if p.Browser == nil {
		return fmt.Errorf("no browser configured")
	}
	return p.Browser(u)
}

func (p *LoopbackPopup) Location() (string, error) {
	p.lk.Lock()
	defer p.lk.Unlock()

	if p.location == "" {
		return "", errLocationPending
	}
	return p.location, nil
}

func (p *LoopbackPopup) Closed() bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.closed
}

// Close shuts down the callback server. It is safe to call more than once.
func (p *LoopbackPopup) Close() error {
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return nil
	}
	p.closed = true
	p.lk.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.srv.Shutdown(ctx)
}
