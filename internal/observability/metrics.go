package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trail_refresh_cycles_total",
		Help: "Refresh cycles by outcome (ready, failed, stale)",
	}, []string{"result"})
	CycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trail_refresh_cycle_seconds",
		Help:    "Duration of a refresh cycle from start to commit",
		Buckets: prometheus.DefBuckets,
	})
	PointsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trail_points_dropped_total",
		Help: "Samples discarded by the trajectory cleaner",
	}, []string{"reason"})
	PointsKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trail_points_kept_total",
		Help: "Samples kept by the trajectory cleaner",
	})
	CacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trail_cache_fallbacks_total",
		Help: "Cycles that used the local cache because history was empty",
	})
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trail_cache_errors_total",
		Help: "Swallowed cache backend errors by operation",
	}, []string{"op"})
	ViewerClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trail_viewer_clients",
		Help: "Connected websocket viewers",
	})
	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trail_fix_notifications_total",
		Help: "MQTT fix notifications received",
	})
)

func ObserveCycleLatency(start time.Time) {
	CycleLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz until ctx is done.
func StartMetricsServer(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
