package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for the REST API and the credential subsystem
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of envelope decryption failures (unusable credentials)
	DecryptFailuresMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_decrypt_failures_total",
		Help: "The total number of envelope decryption failures",
	})

	// Number of signed requests produced, per exchange
	SignaturesIssuedMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_signatures_issued_total",
		Help: "The total number of signed request header sets produced",
	}, []string{"exchange"})

	// Number of credential drift states detected by resolution
	DriftDetectedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolver_drift_detected_total",
		Help: "The total number of credential drift states detected",
	})

	// Number of inconsistent credential states detected by resolution
	InconsistentDetectedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolver_inconsistent_detected_total",
		Help: "The total number of inconsistent credential states detected",
	})

	// Number of envelopes re-encrypted by the key migration task
	ReencryptedEnvelopesMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_reencrypted_envelopes_total",
		Help: "The total number of envelopes re-encrypted under a newer master key",
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(DecryptFailuresMetricsCount)
		prometheus.MustRegister(SignaturesIssuedMetricsTotal)
		prometheus.MustRegister(DriftDetectedMetricsCount)
		prometheus.MustRegister(InconsistentDetectedMetricsCount)
		prometheus.MustRegister(ReencryptedEnvelopesMetricsCount)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		// Start timing responseTime histogram
		start := time.Now()

		// Set activeConnections gauge
		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		// after request

		// Set responseTime histogram
		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(c.Request.Method, c.Request.URL.Path).Observe(float64(latency.Milliseconds()))
	}
}
