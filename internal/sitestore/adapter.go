package sitestore

import (
	"context"
	"errors"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/sirupsen/logrus"
)

// SiteResolver maps a site reference onto the stored site. Unknown sites are
// reported with a TENANT_MISMATCH error.
type SiteResolver interface {
	Resolve(ctx context.Context, ref backend.SiteRef) (model.Site, error)
}

// Adapter serves the backend contract from per-site stores.
type Adapter struct {
	reg   *Registry
	sites SiteResolver
	log   logrus.FieldLogger
}

func NewAdapter(reg *Registry, sites SiteResolver, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{reg: reg, sites: sites, log: log.WithField("backend", backend.KindEmbedded)}
}

func (a *Adapter) Kind() backend.Kind { return backend.KindEmbedded }

func (a *Adapter) Dialect() string { return "sqlite" }

func (a *Adapter) Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	if rec.SiteID <= 0 {
		return model.EventRecord{}, apperr.Validation("site_id", "site_id is required")
	}
	s, release, err := a.reg.Acquire(ctx, rec.SiteID, true)
	if err != nil {
		return model.EventRecord{}, err
	}
	defer release()
	return s.Insert(ctx, rec)
}

// InsertBatch groups rows by site and writes each group to its own store.
func (a *Adapter) InsertBatch(ctx context.Context, rows []model.EventRecord) error {
	bySite := map[int64][]model.EventRecord{}
	var order []int64
	for _, rec := range rows {
		if rec.SiteID <= 0 {
			return apperr.Validation("site_id", "batch contains a record without site_id")
		}
		if _, ok := bySite[rec.SiteID]; !ok {
			order = append(order, rec.SiteID)
		}
		bySite[rec.SiteID] = append(bySite[rec.SiteID], rec)
	}
	for _, siteID := range order {
		if err := a.insertGroup(ctx, siteID, bySite[siteID]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) insertGroup(ctx context.Context, siteID int64, rows []model.EventRecord) error {
	s, release, err := a.reg.Acquire(ctx, siteID, true)
	if err != nil {
		return err
	}
	defer release()
	return s.InsertBatch(ctx, rows)
}

// siteID normalizes a reference to the numeric id. ok is false when the site
// is unknown, which callers treat as "no data".
func (a *Adapter) siteID(ctx context.Context, ref backend.SiteRef) (int64, bool, error) {
	if err := ref.Validate(); err != nil {
		return 0, false, err
	}
	if ref.ID > 0 {
		return ref.ID, true, nil
	}
	if a.sites == nil {
		return 0, false, apperr.Internal("tag lookup is not configured", nil)
	}
	site, err := a.sites.Resolve(ctx, ref)
	if errors.Is(err, apperr.ErrTenantMismatch) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return site.ID, true, nil
}

func (a *Adapter) QueryDashboard(ctx context.Context, opts backend.DashboardOptions) (backend.DashboardResult, error) {
	empty := backend.DashboardResult{Rows: []model.EventRecord{}, Pagination: backend.NewPageInfo(opts.Page.Normalize(), 0)}
	id, ok, err := a.siteID(ctx, opts.Site)
	if err != nil || !ok {
		return empty, err
	}
	s, release, err := a.reg.Acquire(ctx, id, false)
	if err != nil || s == nil {
		return empty, err
	}
	defer release()

	w := opts.Window
	if w.IsZero() {
		w = backend.ResolveWindow(nowUTC(), nil)
	}
	return s.QueryDashboard(ctx, w, opts.Page)
}

func (a *Adapter) SiteHasAnyEvents(ctx context.Context, ref backend.SiteRef) (bool, error) {
	id, ok, err := a.siteID(ctx, ref)
	if err != nil || !ok {
		return false, err
	}
	s, release, err := a.reg.Acquire(ctx, id, false)
	if err != nil || s == nil {
		return false, err
	}
	defer release()
	return s.HasAnyEvents(ctx)
}

// ListEvents ignores teamID: the store only ever holds one site's rows.
func (a *Adapter) ListEvents(ctx context.Context, _ int64, siteID int64, f backend.ListFilters) (backend.ListResult, error) {
	s, release, err := a.reg.Acquire(ctx, siteID, false)
	if err != nil {
		return backend.ListResult{}, err
	}
	defer release()
	if s == nil {
		return backend.ListResult{
			Events:     []model.EventRecord{},
			Pagination: backend.NewPageInfo(f.Normalize().Page, 0),
		}, nil
	}
	res, err := s.ListEvents(ctx, f)
	if err == nil && res.Error {
		a.log.WithField("site_id", siteID).Warn("event listing fetch failed")
	}
	return res, err
}

func (a *Adapter) RunAggregate(ctx context.Context, siteID int64, query string) ([]map[string]any, error) {
	s, release, err := a.reg.Acquire(ctx, siteID, false)
	if err != nil {
		return nil, err
	}
	defer release()
	if s == nil {
		return []map[string]any{}, nil
	}
	return s.RunAggregate(ctx, query)
}

func (a *Adapter) Columns(ctx context.Context) ([]string, error) {
	return a.reg.Columns(ctx)
}

func nowUTC() time.Time { return time.Now().UTC() }
