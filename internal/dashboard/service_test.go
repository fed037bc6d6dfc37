package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/aak1247/sitetap/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	svc    *Service
	tenant site.Tenant
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.QueryEscape(t.Name()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open(sqlite): %v", err)
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

	rows := []any{
		&model.Team{ID: 1, Name: "one", DBAdapter: "postgres"},
		&model.Team{ID: 2, Name: "two", DBAdapter: "postgres"},
		&model.Site{ID: 5, TeamID: 1, TagID: "tag-5", DBAdapter: "postgres"},
		&model.Site{ID: 6, TeamID: 2, TagID: "tag-6", DBAdapter: "postgres"},
		&model.Site{ID: 7, TeamID: 1, TagID: "tag-7", DBAdapter: "postgres"},
	}
	for _, r := range rows {
		if err := gdb.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}

	rel := store.NewRelational(gdb, quiet())
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	for i, name := range []string{"page_view", "page_view", "page_view", "conversion"} {
		at := base.Add(time.Duration(i) * time.Minute)
		rec := model.EventRecord{SiteID: 5, TeamID: 1, TagID: "tag-5", Event: name, CreatedAt: at}
		if _, err := rel.Insert(context.Background(), rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	dir := site.NewDirectory(gdb, backend.KindEmbedded)
	tenant, err := dir.LoadTenant(context.Background(), 1)
	if err != nil {
		t.Fatalf("LoadTenant: %v", err)
	}
	d := backend.NewDispatcher(map[backend.Kind]backend.Adapter{backend.KindPostgres: rel})
	return fixture{svc: NewService(d, dir, quiet()), tenant: tenant}
}

func TestGetDashboardData_Scenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, ref := range []backend.SiteRef{{ID: 5}, {TagID: "tag-5"}} {
		data, err := f.svc.GetDashboardData(ctx, f.tenant, Request{Site: ref})
		if err != nil {
			t.Fatalf("GetDashboardData(%s): %v", ref, err)
		}
		if !data.HasAnyEvents || len(data.Rows) != 4 || data.TotalAllTime != 4 {
			t.Fatalf("%s: has=%v rows=%d all=%d", ref, data.HasAnyEvents, len(data.Rows), data.TotalAllTime)
		}
		want := []string{"conversion", "page_view", "page_view", "page_view"}
		for i, r := range data.Rows {
			if r.Event != want[i] {
				t.Fatalf("%s: row %d = %q, want %q", ref, i, r.Event, want[i])
			}
		}
	}
}

func TestGetDashboardData_FilteredToZeroKeepsProbe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := f.svc.GetDashboardData(context.Background(), f.tenant, Request{
		Site:  backend.SiteRef{ID: 5},
		Range: &backend.DateRange{From: day, To: day},
	})
	if err != nil {
		t.Fatalf("GetDashboardData: %v", err)
	}
	if len(data.Rows) != 0 || !data.HasAnyEvents || data.TotalAllTime != 4 {
		t.Fatalf("expected empty window with probe=true: %+v", data)
	}

	fresh, err := f.svc.GetDashboardData(context.Background(), f.tenant, Request{Site: backend.SiteRef{ID: 7}})
	if err != nil || fresh.HasAnyEvents || len(fresh.Rows) != 0 {
		t.Fatalf("new site: %+v %v", fresh, err)
	}
}

func TestGetDashboardData_TenantMismatchIsEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		tenant site.Tenant
		ref    backend.SiteRef
	}{
		{"other team's site", f.tenant, backend.SiteRef{ID: 6}},
		{"other team's tag", f.tenant, backend.SiteRef{TagID: "tag-6"}},
		{"unknown site", f.tenant, backend.SiteRef{ID: 999}},
		{"tenant without sites", site.Tenant{TeamID: 1}, backend.SiteRef{ID: 5}},
		{"claimed team differs", site.Tenant{TeamID: 2, SiteIDs: []int64{5}}, backend.SiteRef{ID: 5}},
	}
	for _, tc := range cases {
		data, err := f.svc.GetDashboardData(ctx, tc.tenant, Request{Site: tc.ref})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if data.HasAnyEvents || len(data.Rows) != 0 || data.Rows == nil {
			t.Fatalf("%s: expected empty result, got %+v", tc.name, data)
		}
	}

	if _, err := f.svc.GetDashboardData(ctx, f.tenant, Request{Site: backend.SiteRef{ID: 5, TagID: "tag-5"}}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("both refs: %v", err)
	}
}

type slowAdapter struct {
	backend.Stub
	probeErr error
}

func (s slowAdapter) QueryDashboard(ctx context.Context, _ backend.DashboardOptions) (backend.DashboardResult, error) {
	<-ctx.Done()
	return backend.DashboardResult{}, ctx.Err()
}

func (s slowAdapter) SiteHasAnyEvents(ctx context.Context, _ backend.SiteRef) (bool, error) {
	if s.probeErr != nil {
		return false, s.probeErr
	}
	<-ctx.Done()
	return false, ctx.Err()
}

type staticSites struct{}

func (staticSites) Resolve(context.Context, backend.SiteRef) (model.Site, error) {
	return model.Site{ID: 5, TeamID: 1, TagID: "tag-5", DBAdapter: "postgres"}, nil
}

type oneAdapter struct{ a backend.Adapter }

func (o oneAdapter) Get(backend.Kind) backend.Adapter { return o.a }

func TestGetDashboardData_Failures(t *testing.T) {
	t.Parallel()

	tenant := site.Tenant{TeamID: 1, SiteIDs: []int64{5}}
	req := Request{Site: backend.SiteRef{ID: 5}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	svc := NewService(oneAdapter{slowAdapter{}}, staticSites{}, quiet())
	if _, err := svc.GetDashboardData(ctx, tenant, req); !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("deadline: expected CANCELLED, got %v", err)
	}

	down := slowAdapter{probeErr: errors.New("dial tcp: connection refused")}
	svc = NewService(oneAdapter{down}, staticSites{}, quiet())
	if _, err := svc.GetDashboardData(context.Background(), tenant, req); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("backend failure: expected BACKEND_UNAVAILABLE, got %v", err)
	}
}
