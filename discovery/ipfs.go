package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
)

// Maximum size of a document fetched during discovery.
const maxDocumentSize = 1 << 20

// Fetches `ipfs:` URIs through an HTTP gateway.
type IPFSResolver struct {
	Client *http.Client

	// Builds the gateway URL for a CID and path (path always begins with "/").
	CreateURL func(cid, path string) string
}

// Subdomain-style gateway URL on dweb.link
func DefaultIPFSGatewayURL(cid, path string) string {
	return fmt.Sprintf("https://%s.ipns.dweb.link%s", cid, path)
}

func NewIPFSResolver(client *http.Client) *IPFSResolver {
	return &IPFSResolver{
		Client:    client,
		CreateURL: DefaultIPFSGatewayURL,
	}
}

// ParseIPFSURI splits an IPFS URI into a normalized CID string and a path. Accepted forms are `ipfs://<cid>/path`, `ipfs:<cid>/path` and `/ipfs/<cid>/path`. IPNS names are rejected.
//
// CIDv0 identifiers are upgraded to CIDv1 (base32), which is what subdomain gateways require.
func ParseIPFSURI(uri string) (string, string, error) {
	var protocol, rawCID, path string

	if strings.HasPrefix(uri, "/ipfs/") || strings.HasPrefix(uri, "/ipns/") {
		protocol = uri[1:5]
		rest := uri[6:]
		rawCID, path, _ = strings.Cut(rest, "/")
		path = "/" + path
	} else {
		u, err := url.Parse(uri)
		if err != nil {
			return "", "", fmt.Errorf("invalid ipfs uri: %w", err)
		}
		if u.User != nil || u.Port() != "" || u.RawQuery != "" || u.Fragment != "" {
			return "", "", fmt.Errorf("invalid ipfs uri: %s", uri)
		}
		protocol = u.Scheme
		if u.Opaque != "" {
			rawCID, path, _ = strings.Cut(u.Opaque, "/")
			path = "/" + path
		} else {
			rawCID = u.Host
			path = u.Path
		}
	}

	if protocol != "ipfs" {
		return "", "", fmt.Errorf("%w: only ipfs is supported (not %s)", ErrUnsupportedScheme, protocol)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	c, err := cid.Decode(rawCID)
	if err != nil {
		return "", "", fmt.Errorf("invalid ipfs uri, bad CID: %w", err)
	}
	if c.Version() == 0 {
		c = cid.NewCidV1(c.Type(), c.Hash())
	}
	return c.String(), path, nil
}

// Resolve fetches the document at an IPFS URI as text.
func (r *IPFSResolver) Resolve(ctx context.Context, uri string) (string, error) {
	c, path, err := ParseIPFSURI(uri)
	if err != nil {
		return "", err
	}
	gatewayURL := r.CreateURL(c, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs gateway fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ipfs gateway fetch failed: HTTP %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
