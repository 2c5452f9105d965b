package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"trail-svr/internal/config"
	"trail-svr/internal/controller"
	"trail-svr/internal/motion"
	"trail-svr/internal/notify"
	"trail-svr/internal/observability"
	"trail-svr/internal/pipeline"
	"trail-svr/internal/server"
	"trail-svr/internal/source"
	"trail-svr/internal/store"
	"trail-svr/internal/timeutil"
)

type closer interface {
	Close() error
}

type backend interface {
	store.Backend
	closer
}

type fixSource interface {
	controller.Source
	closer
}

func main() {
	path := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting trail-svr...", "http", cfg.HTTPAddr, "transport", cfg.Transport, "cache", cfg.CacheBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trail-svr stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("trail-svr stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	go func() {
		if err := observability.StartMetricsServer(ctx, cfg.MetricsPort); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	src, err := openSource(cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	clock := timeutil.RealClock{}
	ctrl := controller.New(src, store.NewCache(be, logger), controller.Options{
		Clean: pipeline.Options{
			MinYear:   cfg.MinYear,
			JumpKm:    cfg.JumpKm,
			MaxFuture: cfg.MaxFuture(),
		},
		LatestTimeout:  cfg.LatestTimeout(),
		HistoryTimeout: cfg.HistoryTimeout(),
		Clock:          clock,
		Logger:         logger,
	})
	defer ctrl.Close()

	srv := server.New(ctrl, logger)

	var (
		markerMu     sync.Mutex
		markerDevice string
	)
	marker := motion.NewInterpolator(motion.Config{
		Scheduler: motion.NewTickerScheduler(clock, cfg.FrameInterval()),
		Clock:     clock,
		Duration:  cfg.AnimationDuration(),
		Logger:    logger,
	}, func(p motion.Position) {
		markerMu.Lock()
		id := markerDevice
		markerMu.Unlock()
		srv.PublishMarker(id, p)
	})
	defer marker.Stop()

	unsubscribe := ctrl.Subscribe(func(st controller.State) {
		srv.PublishState(st)

		markerMu.Lock()
		changed := st.DeviceID != markerDevice
		markerDevice = st.DeviceID
		markerMu.Unlock()
		if changed {
			marker.Reset()
		}
		if st.Status == controller.StatusReady && st.Fix != nil {
			marker.MoveTo(motion.Position{Lat: st.Fix.Lat, Lon: st.Fix.Lon})
		}
	})
	defer unsubscribe()

	if cfg.MQTTBroker != "" {
		sub := notify.NewSubscriber(cfg.MQTTBroker, "trail-svr-"+uuid.NewString()[:8], cfg.MQTTTopic, func(deviceID string) {
			if st := ctrl.State(); st.DeviceID != "" && st.DeviceID == deviceID {
				ctrl.RefreshNow()
			}
		}, logger)
		if err := sub.Connect(10 * time.Second); err != nil {
			// paho keeps retrying in the background
			logger.Warn("MQTT connect failed", "broker", cfg.MQTTBroker, "error", err)
		}
		defer sub.Close()
	}

	if cfg.DefaultDevice != "" {
		ctrl.SetActiveDevice(cfg.DefaultDevice)
	}
	ctrl.SetAutoRefresh(cfg.AutoRefresh, cfg.RefreshInterval())

	if err := srv.Start(ctx, cfg.HTTPAddr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.CacheBackend {
	case "redis":
		return store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL())
	default:
		return store.NewSQLite(cfg.SQLitePath)
	}
}

func openSource(cfg config.Config, logger *slog.Logger) (fixSource, error) {
	switch cfg.Transport {
	case "grpc":
		return source.NewGRPCSource(cfg.GRPCServer, logger)
	default:
		return httpSource{source.NewHTTPSource(cfg.ServiceURL, &http.Client{}, logger)}, nil
	}
}

// httpSource adds a no-op Close so both transports share one shutdown path.
type httpSource struct {
	*source.HTTPSource
}

func (httpSource) Close() error { return nil }
