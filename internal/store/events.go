package store

import (
	"context"
	"errors"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope narrows a query on the events table. Both backend variants build their
// queries from the same scopes so their results are interchangeable.
type Scope = func(*gorm.DB) *gorm.DB

func noScope(q *gorm.DB) *gorm.DB { return q }

// TenantScope restricts a relational query to one team's site. A numeric site
// id and a tag id are never combined in the same predicate.
func TenantScope(teamID int64, site backend.SiteRef) Scope {
	return func(q *gorm.DB) *gorm.DB {
		if teamID > 0 {
			q = q.Where("team_id = ?", teamID)
		}
		if site.ID > 0 {
			return q.Where("site_id = ?", site.ID)
		}
		return q.Where("tag_id = ?", site.TagID)
	}
}

func WindowScope(w backend.Window) Scope {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at >= ? AND created_at <= ?", w.Start.UTC(), w.End.UTC())
	}
}

// FilterScope applies normalized list filters with AND semantics.
func FilterScope(f backend.ListFilters) Scope {
	return func(q *gorm.DB) *gorm.DB {
		if f.StartDate != nil {
			q = q.Where("created_at >= ?", f.StartDate.UTC())
		}
		if f.EndDate != nil {
			q = q.Where("created_at <= ?", f.EndDate.UTC())
		}
		if f.EventType != "" {
			q = q.Where("event = ?", f.EventType)
		}
		if f.Country != "" {
			q = q.Where("country = ?", f.Country)
		}
		if f.DeviceType != "" {
			q = q.Where("device_type = ?", f.DeviceType)
		}
		if f.Referer != "" {
			q = q.Where("referer = ?", f.Referer)
		}
		return q
	}
}

func newestFirst(q *gorm.DB) *gorm.DB { return q.Order("created_at DESC").Order("id DESC") }

type pageResult struct {
	rows     []model.EventRecord
	total    int64
	allTime  int64
	fetchErr error
}

// runPage fetches one page plus its counts concurrently. The unconditional
// count is only issued when narrow is non-nil; otherwise it equals total.
// A failed fetch is reported in fetchErr so callers can decide how to degrade;
// a failed count or a cancelled context is returned as the error.
func runPage(ctx context.Context, db *gorm.DB, tenant, narrow Scope, page backend.Page) (pageResult, error) {
	if tenant == nil {
		tenant = noScope
	}
	filtered := narrow != nil
	if narrow == nil {
		narrow = noScope
	}
	base := func(ctx context.Context) *gorm.DB {
		return db.WithContext(ctx).Model(&model.EventRecord{}).Scopes(tenant)
	}

	var res pageResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return base(gctx).Scopes(narrow).Count(&res.total).Error
	})
	if filtered {
		g.Go(func() error {
			return base(gctx).Count(&res.allTime).Error
		})
	}
	g.Go(func() error {
		var rows []model.EventRecord
		err := base(gctx).Scopes(narrow, newestFirst).Limit(page.Limit).Offset(page.Offset).Find(&rows).Error
		if err != nil {
			res.fetchErr = err
			return nil
		}
		res.rows = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return pageResult{}, apperr.Classify("count events", err)
	}
	if err := ctx.Err(); err != nil {
		return pageResult{}, apperr.Cancelled(err)
	}
	if !filtered {
		res.allTime = res.total
	}
	if res.rows == nil && res.fetchErr == nil {
		res.rows = []model.EventRecord{}
	}
	return res, nil
}

// ListEvents runs a filtered listing. A failed row fetch yields Error=true with
// nil Events instead of an error.
func ListEvents(ctx context.Context, db *gorm.DB, tenant Scope, f backend.ListFilters) (backend.ListResult, error) {
	f = f.Normalize()
	var narrow Scope
	if f.Active() {
		narrow = FilterScope(f)
	}
	res, err := runPage(ctx, db, tenant, narrow, f.Page)
	if err != nil {
		return backend.ListResult{}, err
	}
	out := backend.ListResult{
		Pagination:   backend.NewPageInfo(f.Page, res.total),
		TotalAllTime: res.allTime,
	}
	if res.fetchErr != nil {
		out.Error = true
		return out, nil
	}
	out.Events = res.rows
	return out, nil
}

// QueryDashboard returns the rows of one window with filtered and all-time
// counts.
func QueryDashboard(ctx context.Context, db *gorm.DB, tenant Scope, w backend.Window, page backend.Page) (backend.DashboardResult, error) {
	page = page.Normalize()
	res, err := runPage(ctx, db, tenant, WindowScope(w), page)
	if err != nil {
		return backend.DashboardResult{}, err
	}
	if res.fetchErr != nil {
		return backend.DashboardResult{}, apperr.Classify("fetch events", res.fetchErr)
	}
	return backend.DashboardResult{
		Rows:          res.rows,
		TotalMatching: res.total,
		TotalAllTime:  res.allTime,
		Pagination:    backend.NewPageInfo(page, res.total),
	}, nil
}

func HasAnyEvents(ctx context.Context, db *gorm.DB, tenant Scope) (bool, error) {
	if tenant == nil {
		tenant = noScope
	}
	var ids []int64
	err := db.WithContext(ctx).Model(&model.EventRecord{}).Scopes(tenant).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return false, apperr.Classify("probe events", err)
	}
	return len(ids) > 0, nil
}

// InsertEvent stores one record. Redelivered records carrying an ingest id
// that is already stored return the existing row.
func InsertEvent(ctx context.Context, db *gorm.DB, rec model.EventRecord) (model.EventRecord, error) {
	rec.ID = 0
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	gdb := db.WithContext(ctx)
	if rec.IngestID == nil {
		if err := gdb.Create(&rec).Error; err != nil {
			return model.EventRecord{}, apperr.Classify("insert event", err)
		}
		return rec, nil
	}

	res := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_id"}, {Name: "ingest_id"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return model.EventRecord{}, apperr.Classify("insert event", res.Error)
	}
	if res.RowsAffected > 0 {
		return rec, nil
	}
	var existing model.EventRecord
	err := gdb.Where("site_id = ? AND ingest_id = ?", rec.SiteID, *rec.IngestID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EventRecord{}, apperr.Internal("insert event: conflicting row vanished", err)
	}
	if err != nil {
		return model.EventRecord{}, apperr.Classify("insert event", err)
	}
	return existing, nil
}

// InsertEventsBatch writes rows in chunks, skipping ingest ids already stored.
func InsertEventsBatch(ctx context.Context, db *gorm.DB, rows []model.EventRecord) error {
	if db == nil || len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].ID = 0
		if rows[i].UpdatedAt.IsZero() {
			rows[i].UpdatedAt = rows[i].CreatedAt
		}
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 200).Error
	return apperr.Classify("insert events", err)
}

// EventColumns lists the real column names of the events table.
func EventColumns(ctx context.Context, db *gorm.DB) ([]string, error) {
	types, err := db.WithContext(ctx).Migrator().ColumnTypes(&model.EventRecord{})
	if err != nil {
		return nil, apperr.Classify("read event columns", err)
	}
	out := make([]string, 0, len(types))
	for _, ct := range types {
		out = append(out, ct.Name())
	}
	return out, nil
}

// RunAggregate executes a compiled aggregate query and returns raw rows.
func RunAggregate(ctx context.Context, db *gorm.DB, query string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, apperr.Classify("run aggregate", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}
