package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics for the background workers, which have no
// API router to mount it on.
type MetricsServer struct {
	Metrics *Metrics
	srv     *http.Server
}

// ServeMetrics registers the wallet collectors on a fresh registry and serves
// it on port in the background.
func ServeMetrics(port int, logger *slog.Logger) *MetricsServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &MetricsServer{
		Metrics: NewMetrics(reg),
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		logger.Info("metrics server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return s
}

// Close stops the listener.
func (s *MetricsServer) Close() error {
	return s.srv.Close()
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}
