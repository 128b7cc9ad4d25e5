// Package metrics описывает метрики Prometheus кассового сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics собирает метрики корзин и отправок. Нулевое значение и nil безопасны.
type POSMetrics struct {
	linesAdded  *prometheus.CounterVec
	submissions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	requests    *prometheus.CounterVec
}

// NewPOSMetrics регистрирует метрики в переданном реестре.
func NewPOSMetrics(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}

	linesAdded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gestock_pos",
		Name:      "cart_lines_added_total",
		Help:      "Products added to carts, by source.",
	}, []string{"source"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gestock_pos",
		Name:      "submissions_total",
		Help:      "Cart submissions, by transaction type and outcome.",
	}, []string{"type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gestock_pos",
		Name:      "submission_duration_seconds",
		Help:      "Duration of the back-office order call in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gestock_pos",
		Name:      "http_requests_total",
		Help:      "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	reg.MustRegister(linesAdded, submissions, duration, requests)

	return &POSMetrics{
		linesAdded:  linesAdded,
		submissions: submissions,
		duration:    duration,
		requests:    requests,
	}
}

// IncLineAdded увеличивает счётчик добавленных товаров.
func (m *POSMetrics) IncLineAdded(source string) {
	if m == nil || m.linesAdded == nil {
		return
	}
	m.linesAdded.WithLabelValues(normalizeLabel(source)).Inc()
}

// ObserveSubmission фиксирует итог и длительность одной отправки.
func (m *POSMetrics) ObserveSubmission(txType, outcome string, d time.Duration) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(normalizeLabel(txType), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(outcome)).Observe(d.Seconds())
}

// Middleware считает HTTP-запросы по шаблону маршрута chi.
func (m *POSMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.requests == nil {
			next.ServeHTTP(w, r)
			return
		}

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
