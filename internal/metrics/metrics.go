// Package metrics exposes Prometheus collectors for the install and token
// lifecycle.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once
	registerErr  error

	tokenExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencylink",
		Name:      "token_exchanges_total",
		Help:      "Authorization code exchanges by result.",
	}, []string{"result"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencylink",
		Name:      "token_refreshes_total",
		Help:      "Refresh token exchanges by result.",
	}, []string{"result"})

	subAccountMints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencylink",
		Name:      "subaccount_mints_total",
		Help:      "Sub-account token mints by result.",
	}, []string{"result"})

	installs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencylink",
		Name:      "installs_total",
		Help:      "Completed installs by scope kind.",
	}, []string{"scope_kind"})

	discoveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agencylink",
		Name:      "discovery_duration_seconds",
		Help:      "Wall-clock duration of discover-and-mint runs.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"source"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencylink",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agencylink",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Register adds all collectors to reg (prometheus.DefaultRegisterer when nil).
// Subsequent calls are no-ops and return the first result.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			tokenExchanges, tokenRefreshes, subAccountMints, installs,
			discoveryDuration, httpRequests, httpDuration,
		} {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					continue
				}
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// ObserveTokenExchange counts an authorization code exchange.
func ObserveTokenExchange(err error) {
	tokenExchanges.WithLabelValues(result(err)).Inc()
}

// ObserveTokenRefresh counts a refresh token exchange.
func ObserveTokenRefresh(err error) {
	tokenRefreshes.WithLabelValues(result(err)).Inc()
}

// ObserveMint counts a sub-account token mint.
func ObserveMint(err error) {
	subAccountMints.WithLabelValues(result(err)).Inc()
}

// ObserveInstall counts a persisted install.
func ObserveInstall(scopeKind string) {
	installs.WithLabelValues(scopeKind).Inc()
}

// ObserveDiscovery records how long a discovery run took.
func ObserveDiscovery(source string, took time.Duration) {
	discoveryDuration.WithLabelValues(source).Observe(took.Seconds())
}

// ObserveHTTP records a served HTTP request.
func ObserveHTTP(method, route string, status int, took time.Duration) {
	httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
