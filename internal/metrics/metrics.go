package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. All methods are safe on
// a nil receiver so components can run without instrumentation.
type Metrics struct {
	tailsRecorded    *prometheus.CounterVec
	tailRejections   *prometheus.CounterVec
	rankRecalcs      prometheus.Counter
	betsClosed       prometheus.Counter
	requestDurations *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tailsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tailgate_tails_recorded_total",
			Help: "Tails persisted, by whether they landed inside the tail window.",
		}, []string{"valid"}),
		tailRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tailgate_tail_rejections_total",
			Help: "Tail attempts refused before insert, by reason.",
		}, []string{"reason"}),
		rankRecalcs: f.NewCounter(prometheus.CounterOpts{
			Name: "tailgate_rank_recalculations_total",
			Help: "Completed challenge rank recalculations.",
		}),
		betsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "tailgate_bets_closed_total",
			Help: "Bets closed because their tail window expired.",
		}),
		requestDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tailgate_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) TailRecorded(valid bool) {
	if m == nil {
		return
	}
	m.tailsRecorded.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) TailRejected(reason string) {
	if m == nil {
		return
	}
	m.tailRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RanksRecalculated() {
	if m == nil {
		return
	}
	m.rankRecalcs.Inc()
}

func (m *Metrics) BetsClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.betsClosed.Add(float64(n))
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDurations.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
