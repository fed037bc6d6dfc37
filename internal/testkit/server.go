package testkit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/config"
	"github.com/aak1247/sitetap/internal/consumer"
	"github.com/aak1247/sitetap/internal/dashboard"
	"github.com/aak1247/sitetap/internal/httpserver"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/report"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/aak1247/sitetap/internal/sitestore"
	"github.com/aak1247/sitetap/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Server struct {
	DB        *gorm.DB
	Directory *site.Directory
	Publisher *InlinePublisher
	Metrics   *obs.Metrics
	Config    config.Config
	HTTP      *httptest.Server
}

// QuietLogger discards everything below panic level.
func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// NewServer wires the full gateway against in-memory SQLite: the relational
// backend shares the control-plane database and embedded sites get in-memory
// per-site stores.
func NewServer(t testing.TB) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)
	log := QuietLogger()

	db := OpenTestDB(t)
	cfg := config.Config{
		HTTPAddr:         "127.0.0.1:0",
		DefaultDBAdapter: string(backend.KindEmbedded),
		QueryTimeout:     5 * time.Second,
	}

	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	dir := site.NewDirectory(db, backend.KindEmbedded)

	stores, err := sitestore.NewRegistry(sitestore.Options{Logger: log, Metrics: m})
	if err != nil {
		t.Fatalf("sitestore.NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	d := backend.NewDispatcher(map[backend.Kind]backend.Adapter{
		backend.KindPostgres: store.NewRelational(db, log),
		backend.KindEmbedded: sitestore.NewAdapter(stores, dir, log),
	}, backend.WithMetrics(m))

	allow, err := report.BuildAllowLists(context.Background(), d, d.Kinds())
	if err != nil {
		t.Fatalf("BuildAllowLists: %v", err)
	}

	ing := consumer.NewIngestor(consumer.IngestorOptions{
		Sites:      dir,
		Adapters:   d,
		Metrics:    m,
		Log:        log,
		BatchSize:  1,
		FlushEvery: 5 * time.Millisecond,
	})
	t.Cleanup(ing.Close)
	publisher := &InlinePublisher{Ingestor: ing}

	srv := httpserver.New(cfg, httpserver.Deps{
		Publisher: publisher,
		DB:        db,
		Directory: dir,
		Dashboard: dashboard.NewService(d, dir, log),
		Reports:   report.NewService(report.NewRepository(db), d, dir, allow, m, log),
		Kinds:     d.Kinds(),
		Metrics:   m,
		Gatherer:  reg,
		Log:       log,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &Server{
		DB:        db,
		Directory: dir,
		Publisher: publisher,
		Metrics:   m,
		Config:    cfg,
		HTTP:      ts,
	}
}
