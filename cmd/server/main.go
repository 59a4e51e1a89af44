package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/api"
	"github.com/yegors/flighttrack/internal/config"
	"github.com/yegors/flighttrack/internal/events"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/internal/metrics"
	"github.com/yegors/flighttrack/internal/storage/postgres"
	"github.com/yegors/flighttrack/internal/storage/sqlite"
	"github.com/yegors/flighttrack/internal/websocket"
	"github.com/yegors/flighttrack/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

// flightStore is everything the server needs from a storage backend
type flightStore interface {
	flights.Store
	flights.FlightLister
	flights.PositionPruner
	api.Store
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting flighttrack server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.Int("fleet_size", len(cfg.Tracker.Fleet)),
		logger.Strings("sources", cfg.Sources.Priority),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err), logger.String("type", cfg.Storage.Type))
		os.Exit(1)
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	fetcher, err := buildFetcher(cfg, m, log)
	if err != nil {
		log.Error("Failed to configure telemetry sources", logger.Error(err))
		os.Exit(1)
	}

	tracker := flights.NewTracker(store, cfg.TrackerSettings(), log)
	if m != nil {
		tracker.SetMetrics(m)
	}

	// Event publishers
	var counter events.Counter
	if m != nil {
		counter = m
	}
	fanout := events.NewFanout(counter)

	var wsServer *websocket.Server
	if cfg.Events.WebSocket {
		wsServer = websocket.NewServer(log)
		go wsServer.Run()
		fanout.Add(wsServer)
	}

	var natsPublisher *events.NATSPublisher
	if cfg.Events.NATSURL != "" {
		natsPublisher, err = events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.NATSSubject, log)
		if err != nil {
			log.Error("Failed to connect event bus", logger.Error(err))
			os.Exit(1)
		}
		fanout.Add(natsPublisher)
	}

	if fanout.Len() > 0 {
		tracker.SetPublisher(fanout)
	}

	service := flights.NewService(fetcher, tracker, cfg.ServiceSettings(), log)
	service.SetPruner(store)

	if err := service.Start(ctx); err != nil {
		log.Error("Failed to start flight tracking service", logger.Error(err))
		os.Exit(1)
	}

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = promhttp.Handler()
	}
	handler := api.NewHandler(service, store, tracker.Index(), fetcher.Sources(), cfg, log, wsServer)
	router := api.NewRouter(handler, metricsHandler, cfg, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	// Waits for the in-flight cycle
	service.Stop()
	cancel()

	if wsServer != nil {
		wsServer.Stop()
	}
	if natsPublisher != nil {
		if err := natsPublisher.Close(); err != nil {
			log.Error("Failed to drain event bus", logger.Error(err))
		}
	}

	log.Info("Server fully stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (flightStore, error) {
	if cfg.Storage.Type == "postgres" {
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Storage.PostgresDSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeMins) * time.Minute,
		}, log)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	lite, err := sqlite.NewStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// buildFetcher creates the enabled sources in priority order. The local
// receiver keeps its own timeout; remote sources get half a poll interval.
func buildFetcher(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (*adsb.Fetcher, error) {
	normalizer := adsb.NewNormalizer(cfg.Tracker.Thresholds())
	normalizer.MagneticVariation = cfg.Sources.MagneticVariation == nil || *cfg.Sources.MagneticVariation

	perCycle := time.Duration(cfg.Tracker.PollIntervalSecs) * time.Second / 2

	var entries []adsb.SourceEntry
	for _, name := range cfg.Sources.PriorityNames() {
		switch name {
		case adsb.SourceLocal:
			timeout := time.Duration(cfg.Sources.Local.TimeoutSecs) * time.Second
			entries = append(entries, adsb.SourceEntry{
				Source:  adsb.NewLocalSource(cfg.Sources.Local.URL, timeout, normalizer, log),
				Timeout: timeout,
			})
		case adsb.SourceHexAPI:
			entries = append(entries, adsb.SourceEntry{
				Source:  adsb.NewHexSource(cfg.HexSourceSettings(), normalizer, log),
				Timeout: perCycle,
			})
		case adsb.SourceOpenSky:
			client, err := adsb.NewClient(cfg.OpenSkyClientSettings(), log)
			if err != nil {
				return nil, fmt.Errorf("failed to create OpenSky client: %w", err)
			}
			log.Info("OpenSky client ready", logger.String("auth", string(client.Mode())))
			entries = append(entries, adsb.SourceEntry{
				Source:  adsb.NewOpenSkySource(client, normalizer, log),
				Timeout: perCycle,
			})
		}
	}

	var observer adsb.Observer
	if m != nil {
		observer = m
	}
	return adsb.NewFetcher(entries, observer, log), nil
}
