package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeAdapter struct {
	kind Kind
}

func (f fakeAdapter) Kind() Kind { return f.kind }

func (f fakeAdapter) Insert(_ context.Context, rec model.EventRecord) (model.EventRecord, error) {
	rec.ID = 1
	return rec, nil
}

func (f fakeAdapter) QueryDashboard(context.Context, DashboardOptions) (DashboardResult, error) {
	return DashboardResult{TotalMatching: 1, TotalAllTime: 1}, nil
}

func (f fakeAdapter) SiteHasAnyEvents(context.Context, SiteRef) (bool, error) { return true, nil }

func (f fakeAdapter) Columns(context.Context) ([]string, error) { return []string{"event"}, nil }

func TestDispatcher_Get(t *testing.T) {
	t.Parallel()

	pg := fakeAdapter{kind: KindPostgres}
	emb := fakeAdapter{kind: KindEmbedded}
	d := NewDispatcher(map[Kind]Adapter{KindPostgres: pg, KindEmbedded: emb})

	if got := d.Get(KindPostgres).Kind(); got != KindPostgres {
		t.Fatalf("postgres => %s", got)
	}
	if got := d.Get(Kind("mongodb")).Kind(); got != KindEmbedded {
		t.Fatalf("unknown kind should fall back to embedded, got %s", got)
	}
	if got := d.GetFor("PostgreSQL").Kind(); got != KindPostgres {
		t.Fatalf("alias => %s", got)
	}

	stub := d.Get(KindClickHouse)
	if _, ok := stub.(Stub); !ok {
		t.Fatalf("column-store kind should get a stub, got %T", stub)
	}
	res, err := stub.QueryDashboard(context.Background(), DashboardOptions{})
	if err != nil || len(res.Rows) != 0 || res.TotalAllTime != 0 {
		t.Fatalf("stub query: %+v %v", res, err)
	}
	if ok, err := stub.SiteHasAnyEvents(context.Background(), SiteRef{ID: 1}); ok || err != nil {
		t.Fatalf("stub probe: %v %v", ok, err)
	}
	if _, err := stub.Insert(context.Background(), model.EventRecord{}); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("stub insert: %v", err)
	}
}

func TestDispatcher_NoFallbackConfigured(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(map[Kind]Adapter{KindPostgres: fakeAdapter{kind: KindPostgres}})
	if _, ok := d.Get(KindEmbedded).(Stub); !ok {
		t.Fatalf("missing embedded adapter should degrade to stub")
	}
	if _, ok := d.Get(Kind("other")).(Stub); !ok {
		t.Fatalf("missing fallback should degrade to stub")
	}
	if kinds := d.Kinds(); len(kinds) != 1 || kinds[0] != KindPostgres {
		t.Fatalf("kinds=%v", kinds)
	}
}

func TestDispatcher_ObservedAdapterKeepsCapabilities(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	d := NewDispatcher(map[Kind]Adapter{KindEmbedded: fakeAdapter{kind: KindEmbedded}}, WithMetrics(m))

	a := d.Get(KindEmbedded)
	if _, ok := a.(ColumnSource); ok {
		t.Fatalf("wrapper should not expose capabilities directly")
	}
	if _, ok := As[ColumnSource](a); !ok {
		t.Fatalf("As should see through the metrics wrapper")
	}
	if _, ok := As[AggregateRunner](a); ok {
		t.Fatalf("fake does not run aggregates")
	}

	if _, err := a.Insert(context.Background(), model.EventRecord{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := testutil.ToFloat64(m.AdapterOpsTotal.WithLabelValues("embedded", "insert", "ok")); got != 1 {
		t.Fatalf("insert metric=%v", got)
	}
}

func TestSiteRef_Validate(t *testing.T) {
	t.Parallel()

	if err := (SiteRef{ID: 5}).Validate(); err != nil {
		t.Fatalf("id only: %v", err)
	}
	if err := (SiteRef{TagID: "abc"}).Validate(); err != nil {
		t.Fatalf("tag only: %v", err)
	}
	if err := (SiteRef{ID: 5, TagID: "abc"}).Validate(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("both: %v", err)
	}
	if err := (SiteRef{}).Validate(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("neither: %v", err)
	}
}

type batchFake struct {
	fakeAdapter
	batches *int
}

func (b batchFake) InsertBatch(_ context.Context, rows []model.EventRecord) error {
	*b.batches++
	return nil
}

func TestDispatcher_BatchWritesAreObserved(t *testing.T) {
	t.Parallel()

	m := obs.NewMetrics(prometheus.NewRegistry())
	var batches int
	d := NewDispatcher(map[Kind]Adapter{
		KindPostgres: batchFake{fakeAdapter: fakeAdapter{kind: KindPostgres}, batches: &batches},
		KindEmbedded: fakeAdapter{kind: KindEmbedded},
	}, WithMetrics(m))
	rows := []model.EventRecord{{Event: "a"}, {Event: "b"}}

	for _, kind := range []Kind{KindPostgres, KindEmbedded} {
		bi, ok := As[BatchInserter](d.Get(kind))
		if !ok {
			t.Fatalf("%s: wrapper should accept batches", kind)
		}
		if err := bi.InsertBatch(context.Background(), rows); err != nil {
			t.Fatalf("%s: InsertBatch: %v", kind, err)
		}
		if got := testutil.ToFloat64(m.AdapterOpsTotal.WithLabelValues(string(kind), "insert_batch", "ok")); got != 1 {
			t.Fatalf("%s: insert_batch metric=%v", kind, got)
		}
	}
	if batches != 1 {
		t.Fatalf("batch-capable adapter should get one call, got %d", batches)
	}
}
