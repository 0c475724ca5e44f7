package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uauth_oauth_token_requests",
	Help: "Number of token endpoint requests, by outcome",
}, []string{"status"})

var tokenRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "uauth_oauth_token_request_duration",
	Help:    "Time to complete token endpoint requests",
	Buckets: prometheus.ExponentialBucketsRange(0.005, 10, 20),
})

var logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uauth_oauth_logins",
	Help: "Number of completed login callbacks, by outcome",
}, []string{"flow", "status"})

var issuerConfigCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uauth_oauth_issuer_config_cache_hits",
	Help: "Number of OpenID configurations served from the credential store",
})
