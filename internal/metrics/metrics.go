package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_fetch_requests_total",
			Help: "Total number of page fetches executed",
		},
		[]string{"engine", "domain", "status", "challenge"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skein_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"engine"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"engine"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_proxy_failures_total",
			Help: "Proxy fetches that failed or hit a challenge, by pool",
		},
		[]string{"pool", "outcome"},
	)

	SERPPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_serp_pages_total",
			Help: "Search result pages requested, by outcome",
		},
		[]string{"outcome"},
	)

	SubtasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_subtasks_total",
			Help: "Content sub-tasks that reached a terminal state",
		},
		[]string{"status"},
	)

	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skein_responses_total",
			Help: "Aggregated responses finalized, by outcome",
		},
		[]string{"outcome"},
	)

	ResponseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skein_response_duration_seconds",
			Help:    "Time from opening a response to finalizing it",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120, 300},
		},
	)

	OpenResponses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skein_open_responses",
			Help: "Responses currently waiting for sub-tasks",
		},
	)
)

// RecordFetch updates the fetch metrics for one completed page fetch.
func RecordFetch(engine, domain string, statusCode int, challenge string, d time.Duration, bytes int) {
	FetchRequestsTotal.WithLabelValues(engine, domain, strconv.Itoa(statusCode), challenge).Inc()
	FetchDuration.WithLabelValues(engine).Observe(d.Seconds())
	FetchBytesTotal.WithLabelValues(engine).Add(float64(bytes))
}

// RecordResponse counts a finalized response and how long it stayed open.
func RecordResponse(outcome string, d time.Duration) {
	ResponsesTotal.WithLabelValues(outcome).Inc()
	ResponseDuration.Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server is a standalone HTTP server for Prometheus metrics, used when
// metrics are served on their own address.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start begins listening on addr and exposes /metrics.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
