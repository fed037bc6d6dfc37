package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/config"
	"github.com/aak1247/sitetap/internal/consumer"
	"github.com/aak1247/sitetap/internal/dashboard"
	"github.com/aak1247/sitetap/internal/db"
	"github.com/aak1247/sitetap/internal/enrich"
	"github.com/aak1247/sitetap/internal/httpserver"
	"github.com/aak1247/sitetap/internal/migrate"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/queue"
	"github.com/aak1247/sitetap/internal/report"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/aak1247/sitetap/internal/sitestore"
	"github.com/aak1247/sitetap/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := setupLogger(cfg.LogLevel, cfg.LogFormat)
	log.Infof("config: %s", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := obs.NewMetrics(reg)

	gdb, err := openControlPlane(ctx, cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := migrate.AutoMigrate(migCtx, gdb); err != nil {
		cancel()
		log.Fatalf("db migrate: %v", err)
	}
	cancel()

	defaultKind := backend.ParseKind(cfg.DefaultDBAdapter)
	dir := site.NewDirectory(gdb, defaultKind)
	var sites site.Resolver = dir
	if cfg.RedisAddr != "" {
		rdb, err := site.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping: %v", err)
		}
		cancel()
		defer rdb.Close()
		sites = site.NewCachedResolver(dir, rdb, cfg.SiteCacheTTL, log, m)
	}

	stores, err := sitestore.NewRegistry(sitestore.Options{
		Dir:     cfg.EmbeddedDataDir,
		MaxOpen: cfg.EmbeddedMaxOpen,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		log.Fatalf("embedded stores: %v", err)
	}
	defer stores.Close()

	adapters := map[backend.Kind]backend.Adapter{
		backend.KindEmbedded:   sitestore.NewAdapter(stores, sites, log),
		// The column store has no implementation yet; its writes stay queued.
		backend.KindClickHouse: backend.NewStub(backend.KindClickHouse),
	}
	if cfg.PostgresURL != "" {
		adapters[backend.KindPostgres] = store.NewRelational(gdb, log)
	} else {
		log.Warn("POSTGRES_URL not set: sites on the postgres adapter cannot store events")
	}
	dispatcher := backend.NewDispatcher(adapters, backend.WithFallback(defaultKind), backend.WithMetrics(m))

	allowCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	allow, err := report.BuildAllowLists(allowCtx, dispatcher, dispatcher.Kinds())
	cancel()
	if err != nil {
		log.Fatalf("column snapshot: %v", err)
	}

	geoip, err := enrich.NewGeoIP(cfg.GeoIPCityMMDB)
	if err != nil {
		log.Fatalf("geoip: %v", err)
	}
	if geoip != nil {
		defer geoip.Close()
	}

	nsqPublisher, err := queue.NewNSQPublisher(cfg.NSQDAddress, log)
	if err != nil {
		log.Fatalf("nsq publisher: %v", err)
	}
	defer nsqPublisher.Stop()

	var eventConsumer *consumer.NSQConsumer
	if cfg.RunConsumers {
		ing := consumer.NewIngestor(consumer.IngestorOptions{
			Sites:      sites,
			Adapters:   dispatcher,
			Geo:        geoip,
			Metrics:    m,
			Log:        log,
			BatchSize:  cfg.IngestBatchSize,
			FlushEvery: cfg.IngestFlushEvery,
		})
		eventConsumer, err = consumer.NewNSQEventConsumer(ctx, consumer.NSQOptions{
			Address:     cfg.NSQDAddress,
			Channel:     cfg.NSQEventChannel,
			MaxInFlight: cfg.NSQMaxInFlight,
			Log:         log,
		}, ing)
		if err != nil {
			log.Fatalf("event consumer: %v", err)
		}
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Publisher: queue.ObservePublisher(nsqPublisher, m),
		DB:        gdb,
		Directory: dir,
		Dashboard: dashboard.NewService(dispatcher, sites, log),
		Reports:   report.NewService(report.NewRepository(gdb), dispatcher, sites, allow, m, log),
		Kinds:     dispatcher.Kinds(),
		Metrics:   m,
		Gatherer:  reg,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Infof("http listening on %s", cfg.HTTPAddr)
	if cfg.RunConsumers {
		log.Info("event consumer enabled")
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	// Stopping the consumer flushes the pending batch before stores close.
	if eventConsumer != nil {
		eventConsumer.Stop()
	}
}

func setupLogger(logLevel, format string) *logrus.Logger {
	logger := logrus.New()
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// openControlPlane uses Postgres when configured and otherwise a SQLite file
// next to the embedded site stores.
func openControlPlane(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	if cfg.PostgresURL != "" {
		return db.NewGorm(ctx, cfg.PostgresURL, db.Options{})
	}
	if cfg.EmbeddedDataDir == "" {
		return db.OpenSQLite(ctx, "")
	}
	if err := os.MkdirAll(cfg.EmbeddedDataDir, 0o755); err != nil {
		return nil, err
	}
	return db.OpenSQLite(ctx, filepath.Join(cfg.EmbeddedDataDir, "control.db"))
}
