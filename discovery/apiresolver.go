package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// [DomainResolver] backed by a remote HTTP record-resolution service.
//
// The service is expected to answer `GET {Host}/resolve/domains/{domain}` with a JSON body containing a `records` object. A 404 means the domain has no records, which is returned as an empty map.
type APIDomainResolver struct {
	Host   string
	APIKey string
	Client *http.Client
	Logger *slog.Logger

	// Client-side rate limit on lookups
	Limiter *rate.Limiter
}

var _ DomainResolver = (*APIDomainResolver)(nil)

type domainRecordsResponse struct {
	Records map[string]string `json:"records"`
}

func NewAPIDomainResolver(host, apiKey string) *APIDomainResolver {
	return &APIDomainResolver{
		Host:   strings.TrimSuffix(host, "/"),
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		Logger:  slog.Default().With("component", "apiresolver"),
		Limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

func (r *APIDomainResolver) Records(ctx context.Context, domain string, keys []string) (map[string]string, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := fmt.Sprintf("%s/resolve/domains/%s", r.Host, url.PathEscape(strings.ToLower(domain)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		domainRecordLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("domain record lookup: %w", err)
	}
	defer resp.Body.Close()

	out := make(map[string]string, len(keys))
	if resp.StatusCode == http.StatusNotFound {
		domainRecordLookups.WithLabelValues("notfound").Inc()
		return out, nil
	}
	if resp.StatusCode != http.StatusOK {
		domainRecordLookups.WithLabelValues("error").Inc()
		r.Logger.Warn("domain record lookup failed", "domain", domain, "statusCode", resp.StatusCode)
		return nil, fmt.Errorf("domain record lookup failed: HTTP %d", resp.StatusCode)
	}

	var body domainRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		domainRecordLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("domain record response failed to decode: %w", err)
	}
	domainRecordLookups.WithLabelValues("success").Inc()

	for _, k := range keys {
		if v, ok := body.Records[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}
