package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "redirects_total",
		Help:      "Short link resolutions by outcome.",
	}, []string{"outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "cache_errors_total",
		Help:      "Cache operations that failed and were absorbed.",
	}, []string{"operation"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "ratelimit_denials_total",
		Help:      "Requests denied by the rate limiter.",
	}, []string{"action", "window"})

	SafetyVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "url_safety_verdicts_total",
		Help:      "URL safety pipeline results.",
	}, []string{"verdict"})

	AnalyticsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "analytics_events_total",
		Help:      "Visitor events by processing result.",
	}, []string{"result"})

	LinksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shortsight",
		Name:      "links_created_total",
		Help:      "Links successfully created.",
	})
)

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
