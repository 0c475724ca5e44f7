package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var issuerResolution = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uauth_discovery_resolve_issuer",
	Help: "Domain to OpenID configuration resolutions",
}, []string{"resolver", "status"})

var issuerResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "uauth_discovery_resolve_issuer_duration",
	Help:    "Time to resolve a domain to an OpenID configuration",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
}, []string{"resolver", "status"})

var issuerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uauth_discovery_issuer_cache_hits",
	Help: "Issuer resolutions served from cache",
})

var issuerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uauth_discovery_issuer_cache_misses",
	Help: "Issuer resolutions not found in cache",
})

var issuerRequestsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "uauth_discovery_issuer_requests_coalesced",
	Help: "Issuer resolutions which waited on an identical in-flight request",
})

var domainRecordLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uauth_discovery_domain_record_lookups",
	Help: "Record lookups against a remote domain resolution API",
}, []string{"status"})
