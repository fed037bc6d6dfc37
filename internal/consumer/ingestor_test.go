package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/enrich"
	"github.com/aak1247/sitetap/internal/ingest"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/aak1247/sitetap/internal/sitestore"
	"github.com/aak1247/sitetap/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedGeo map[string]enrich.Geo

func (f fixedGeo) Lookup(ip string) (enrich.Geo, bool) {
	g, ok := f[ip]
	return g, ok
}

type harness struct {
	db       *gorm.DB
	ing      *Ingestor
	metrics  *obs.Metrics
	embedded *sitestore.Adapter
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newHarness(t *testing.T) harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.QueryEscape(t.Name()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("gdb.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := gdb.AutoMigrate(&model.Team{}, &model.Site{}, &model.EventRecord{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, r := range []any{
		&model.Team{ID: 1, Name: "one", DBAdapter: "postgres"},
		&model.Site{ID: 5, TeamID: 1, TagID: "tag-5", DBAdapter: "postgres"},
		&model.Site{ID: 7, TeamID: 1, TagID: "tag-7", DBAdapter: "embedded"},
		&model.Site{ID: 9, TeamID: 1, TagID: "tag-9", DBAdapter: "clickhouse"},
	} {
		if err := gdb.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}

	dir := site.NewDirectory(gdb, backend.KindEmbedded)
	reg, err := sitestore.NewRegistry(sitestore.Options{Logger: quiet()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	embedded := sitestore.NewAdapter(reg, dir, quiet())

	m := obs.NewMetrics(prometheus.NewRegistry())
	d := backend.NewDispatcher(map[backend.Kind]backend.Adapter{
		backend.KindPostgres: store.NewRelational(gdb, quiet()),
		backend.KindEmbedded: embedded,
	}, backend.WithMetrics(m))

	ing := NewIngestor(IngestorOptions{
		Sites:      dir,
		Adapters:   d,
		Geo:        fixedGeo{"203.0.113.9": {Country: "DE", City: "Berlin", Postal: "10115"}},
		Metrics:    m,
		Log:        quiet(),
		BatchSize:  1,
		FlushEvery: 10 * time.Millisecond,
	})
	t.Cleanup(ing.Close)
	return harness{db: gdb, ing: ing, metrics: m, embedded: embedded}
}

func message(t *testing.T, tag string, payload map[string]any, ip string) []byte {
	t.Helper()
	raw, _ := json.Marshal(payload)
	msg := ingest.NSQMessage{Type: "event", TagID: tag, Received: time.Now().UTC(), Payload: raw}
	if ip != "" {
		msg.Meta = &ingest.MessageMeta{ClientIP: ip}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func (h harness) ingested(res string) float64 {
	return testutil.ToFloat64(h.metrics.IngestMessagesTotal.WithLabelValues(res))
}

func TestIngestor_StoresOnceAndEnriches(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := uuid.New()
	body := message(t, "tag-5", map[string]any{"event": "page_view", "site_id": 999, "team_id": 42}, "203.0.113.9")

	for range 2 {
		if err := h.ing.Handle(ctx, id, body); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	var rows []model.EventRecord
	if err := h.db.Where("tag_id = ?", "tag-5").Find(&rows).Error; err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("redelivery duplicated rows: %d", len(rows))
	}
	got := rows[0]
	if got.SiteID != 5 || got.TeamID != 1 {
		t.Fatalf("server-assigned ids not applied: site=%d team=%d", got.SiteID, got.TeamID)
	}
	if got.IngestID == nil || *got.IngestID != id {
		t.Fatalf("ingest id=%v want %v", got.IngestID, id)
	}
	if got.Country == nil || *got.Country != "DE" || got.Postal == nil || *got.Postal != "10115" {
		t.Fatalf("geo enrichment missing: %+v", got)
	}
	if h.ingested("stored") != 2 {
		t.Fatalf("stored=%v", h.ingested("stored"))
	}
}

func TestIngestor_RoutesEmbeddedSites(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if err := h.ing.Handle(ctx, uuid.New(), message(t, "tag-7", map[string]any{"event": "signup"}, "")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	ok, err := h.embedded.SiteHasAnyEvents(ctx, backend.SiteRef{ID: 7})
	if err != nil || !ok {
		t.Fatalf("embedded store has events=%v err=%v", ok, err)
	}
	var n int64
	h.db.Model(&model.EventRecord{}).Count(&n)
	if n != 0 {
		t.Fatalf("embedded event leaked into relational table: %d", n)
	}
}

func TestIngestor_DropsAndRequeues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if err := h.ing.Handle(ctx, uuid.New(), []byte("{not json")); err != nil {
		t.Fatalf("bad json should be acknowledged: %v", err)
	}
	if err := h.ing.Handle(ctx, uuid.New(), message(t, "tag-5", map[string]any{"page_url": "/x"}, "")); err != nil {
		t.Fatalf("missing event name should be acknowledged: %v", err)
	}
	if err := h.ing.Handle(ctx, uuid.New(), message(t, "nope", map[string]any{"event": "x"}, "")); err != nil {
		t.Fatalf("unknown tag should be acknowledged: %v", err)
	}
	if h.ingested("invalid") != 2 || h.ingested("unknown_site") != 1 {
		t.Fatalf("invalid=%v unknown_site=%v", h.ingested("invalid"), h.ingested("unknown_site"))
	}

	// The column-store kind is not implemented; the message must stay queued.
	if err := h.ing.Handle(ctx, uuid.New(), message(t, "tag-9", map[string]any{"event": "x"}, "")); err == nil {
		t.Fatalf("expected requeue for unavailable backend")
	}
	if h.ingested("requeued") != 1 {
		t.Fatalf("requeued=%v", h.ingested("requeued"))
	}
}

// checkedStore behaves like Postgres with a CHECK constraint on event names:
// one offending row makes the whole multi-row statement fail.
type checkedStore struct {
	*store.Relational
	batches int
}

func violation(rec model.EventRecord) error {
	if rec.Event != "blocked" {
		return nil
	}
	return apperr.Classify("insert event", &pgconn.PgError{Code: "23514", Message: "violates check constraint"})
}

func (c *checkedStore) Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	if err := violation(rec); err != nil {
		return model.EventRecord{}, err
	}
	return c.Relational.Insert(ctx, rec)
}

func (c *checkedStore) InsertBatch(ctx context.Context, rows []model.EventRecord) error {
	c.batches++
	for _, rec := range rows {
		if err := violation(rec); err != nil {
			return err
		}
	}
	return c.Relational.InsertBatch(ctx, rows)
}

func TestIngestor_RejectedRowDoesNotFailItsBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cs := &checkedStore{Relational: store.NewRelational(h.db, quiet())}
	m := obs.NewMetrics(prometheus.NewRegistry())
	ing := NewIngestor(IngestorOptions{
		Sites:      site.NewDirectory(h.db, backend.KindEmbedded),
		Adapters:   backend.NewDispatcher(map[backend.Kind]backend.Adapter{backend.KindPostgres: cs}, backend.WithMetrics(m)),
		Metrics:    m,
		Log:        quiet(),
		BatchSize:  3,
		FlushEvery: time.Hour,
	})
	t.Cleanup(ing.Close)
	ctx := context.Background()

	// An oversized name never reaches the store.
	long := message(t, "tag-5", map[string]any{"event": strings.Repeat("e", 5000)}, "")
	if err := ing.Handle(ctx, uuid.New(), long); err != nil {
		t.Fatalf("oversized event should be acknowledged: %v", err)
	}

	errs := make([]error, 3)
	var wg sync.WaitGroup
	for n, name := range []string{"page_view", "blocked", "conversion"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[n] = ing.Handle(ctx, uuid.New(), message(t, "tag-5", map[string]any{"event": name}, ""))
		}()
	}
	wg.Wait()
	for n, err := range errs {
		if err != nil {
			t.Fatalf("message %d was requeued: %v", n, err)
		}
	}
	if cs.batches != 1 {
		t.Fatalf("expected one batch write, got %d", cs.batches)
	}

	var names []string
	if err := h.db.Model(&model.EventRecord{}).Where("site_id = ?", 5).Order("event").Pluck("event", &names).Error; err != nil {
		t.Fatalf("Pluck: %v", err)
	}
	if len(names) != 2 || names[0] != "conversion" || names[1] != "page_view" {
		t.Fatalf("stored events=%v", names)
	}

	ingested := func(res string) float64 { return testutil.ToFloat64(m.IngestMessagesTotal.WithLabelValues(res)) }
	if ingested("stored") != 2 || ingested("rejected") != 1 || ingested("invalid") != 1 || ingested("requeued") != 0 {
		t.Fatalf("stored=%v rejected=%v invalid=%v requeued=%v",
			ingested("stored"), ingested("rejected"), ingested("invalid"), ingested("requeued"))
	}
}
