package store

import (
	"context"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Relational is the shared-table backend. All tenants live in one events
// table, so every read carries a tenant predicate.
type Relational struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func NewRelational(db *gorm.DB, log logrus.FieldLogger) *Relational {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relational{db: db, log: log.WithField("backend", backend.KindPostgres)}
}

func (r *Relational) Kind() backend.Kind { return backend.KindPostgres }

func (r *Relational) Dialect() string {
	if r.db != nil && r.db.Dialector != nil && strings.EqualFold(r.db.Dialector.Name(), "sqlite") {
		return "sqlite"
	}
	return "postgres"
}

func (r *Relational) Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	if rec.SiteID <= 0 {
		return model.EventRecord{}, apperr.Validation("site_id", "site_id is required")
	}
	if rec.TeamID <= 0 {
		return model.EventRecord{}, apperr.Validation("team_id", "team_id is required")
	}
	if strings.TrimSpace(rec.Event) == "" {
		return model.EventRecord{}, apperr.Validation("event", "event is required")
	}
	if strings.TrimSpace(rec.TagID) == "" {
		return model.EventRecord{}, apperr.Validation("tag_id", "tag_id is required")
	}
	return InsertEvent(ctx, r.db, rec)
}

// InsertBatch writes records that were already validated by the consumer.
func (r *Relational) InsertBatch(ctx context.Context, rows []model.EventRecord) error {
	for _, rec := range rows {
		if rec.SiteID <= 0 || rec.TeamID <= 0 {
			return apperr.Validation("site_id", "batch contains a record without tenant")
		}
	}
	return InsertEventsBatch(ctx, r.db, rows)
}

func (r *Relational) QueryDashboard(ctx context.Context, opts backend.DashboardOptions) (backend.DashboardResult, error) {
	if err := opts.Site.Validate(); err != nil {
		return backend.DashboardResult{}, err
	}
	w := opts.Window
	if w.IsZero() {
		w = backend.ResolveWindow(nowUTC(), nil)
	}
	return QueryDashboard(ctx, r.db, TenantScope(opts.TeamID, opts.Site), w, opts.Page)
}

func (r *Relational) SiteHasAnyEvents(ctx context.Context, site backend.SiteRef) (bool, error) {
	if err := site.Validate(); err != nil {
		return false, err
	}
	return HasAnyEvents(ctx, r.db, TenantScope(0, site))
}

func (r *Relational) ListEvents(ctx context.Context, teamID, siteID int64, f backend.ListFilters) (backend.ListResult, error) {
	if siteID <= 0 {
		return backend.ListResult{}, apperr.Validation("site_id", "site_id is required")
	}
	res, err := ListEvents(ctx, r.db, TenantScope(teamID, backend.SiteRef{ID: siteID}), f)
	if err == nil && res.Error {
		r.log.WithFields(logrus.Fields{"site_id": siteID, "team_id": teamID}).Warn("event listing fetch failed")
	}
	return res, err
}

// RunAggregate refuses queries that are not scoped to the site, since the
// events table is shared between tenants.
func (r *Relational) RunAggregate(ctx context.Context, siteID int64, query string) ([]map[string]any, error) {
	if !backend.ScopedToSite(query, siteID) {
		return nil, apperr.Internal("aggregate query is missing its tenant predicate", nil)
	}
	return RunAggregate(ctx, r.db, query)
}

func (r *Relational) Columns(ctx context.Context) ([]string, error) {
	return EventColumns(ctx, r.db)
}

func nowUTC() time.Time { return time.Now().UTC() }
