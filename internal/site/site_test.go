package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDirectory(t *testing.T) *Directory {
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
	if err := gdb.AutoMigrate(&model.Team{}, &model.Site{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return NewDirectory(gdb, backend.KindEmbedded)
}

func TestDirectory_CreateResolveAndTenant(t *testing.T) {
	t.Parallel()

	d := openDirectory(t)
	ctx := context.Background()

	team, err := d.CreateTeam(ctx, "acme", backend.KindPostgres)
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	s, err := d.Create(ctx, team.ID, "acme.example")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.DBAdapter != string(backend.KindPostgres) || len(s.TagID) != 32 {
		t.Fatalf("site did not inherit adapter or got a bad tag: %+v", s)
	}

	byTag, err := d.Resolve(ctx, backend.SiteRef{TagID: s.TagID})
	if err != nil || byTag.ID != s.ID {
		t.Fatalf("Resolve(tag): %+v %v", byTag, err)
	}
	if _, err := d.Resolve(ctx, backend.SiteRef{ID: s.ID + 100}); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("unknown site: %v", err)
	}

	tenant, err := d.LoadTenant(ctx, team.ID)
	if err != nil {
		t.Fatalf("LoadTenant: %v", err)
	}
	if tenant.Kind != backend.KindPostgres || !tenant.Owns(s.ID) || tenant.Owns(s.ID+1) {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
	if _, err := d.LoadTenant(ctx, team.ID+1); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("unknown team: %v", err)
	}
	if _, err := d.Create(ctx, team.ID+1, "x"); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("site for unknown team: %v", err)
	}

	sites, err := d.ListByTeam(ctx, team.ID)
	if err != nil || len(sites) != 1 {
		t.Fatalf("ListByTeam: %v %v", sites, err)
	}
}

func TestDirectory_DefaultKind(t *testing.T) {
	t.Parallel()

	d := openDirectory(t)
	team, err := d.CreateTeam(context.Background(), "solo", "")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if team.DBAdapter != string(backend.KindEmbedded) {
		t.Fatalf("default adapter=%q", team.DBAdapter)
	}
	if _, err := d.CreateTeam(context.Background(), "  ", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank name: %v", err)
	}
}

type countingResolver struct {
	calls int
	site  model.Site
}

func (c *countingResolver) Resolve(_ context.Context, ref backend.SiteRef) (model.Site, error) {
	c.calls++
	if ref.ID == c.site.ID || ref.TagID == c.site.TagID {
		return c.site, nil
	}
	return model.Site{}, apperr.TenantMismatch("site not found")
}

func TestCachedResolver(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)
	m := obs.NewMetrics(prometheus.NewRegistry())
	next := &countingResolver{site: model.Site{ID: 3, TeamID: 1, TagID: "abc", DBAdapter: "embedded"}}
	c := NewCachedResolver(next, rdb, time.Minute, quiet, m)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := c.Resolve(ctx, backend.SiteRef{ID: 3})
		if err != nil || s.TagID != "abc" {
			t.Fatalf("Resolve: %+v %v", s, err)
		}
	}
	if _, err := c.Resolve(ctx, backend.SiteRef{TagID: "abc"}); err != nil {
		t.Fatalf("Resolve(tag): %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected one backing lookup, got %d", next.calls)
	}
	if got := testutil.ToFloat64(m.SiteCacheLookups.WithLabelValues("hit")); got != 3 {
		t.Fatalf("hits=%v", got)
	}

	if _, err := c.Resolve(ctx, backend.SiteRef{TagID: "missing"}); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("unknown tag: %v", err)
	}
	if mr.Exists(tagKey("missing")) {
		t.Fatalf("misses must not be cached")
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.Resolve(ctx, backend.SiteRef{ID: 3}); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected a fresh lookup after expiry, got %d calls", next.calls)
	}
}

func TestCachedResolver_RedisDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)
	next := &countingResolver{site: model.Site{ID: 3, TagID: "abc"}}
	c := NewCachedResolver(next, rdb, time.Minute, quiet, nil)

	s, err := c.Resolve(context.Background(), backend.SiteRef{ID: 3})
	if err != nil || s.ID != 3 {
		t.Fatalf("resolve with redis down: %+v %v", s, err)
	}
	if _, err := NewRedisClient("", "", 0); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
