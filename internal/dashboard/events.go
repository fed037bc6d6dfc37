package dashboard

import (
	"context"
	"errors"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/site"
)

func emptyList(f backend.ListFilters) backend.ListResult {
	return backend.ListResult{
		Events:     []model.EventRecord{},
		Pagination: backend.NewPageInfo(f.Normalize().Page, 0),
	}
}

// ListEvents pages through a site's events with the listing filters. Unlike
// the dashboard, a site outside the tenant is reported as TENANT_MISMATCH.
// Backends without listing support return an empty page.
func (s *Service) ListEvents(ctx context.Context, tenant site.Tenant, ref backend.SiteRef, f backend.ListFilters) (backend.ListResult, error) {
	if err := ref.Validate(); err != nil {
		return backend.ListResult{}, err
	}
	st, err := s.sites.Resolve(ctx, ref)
	if err != nil && !errors.Is(err, apperr.ErrTenantMismatch) {
		return backend.ListResult{}, apperr.Classify("resolve site", err)
	}
	if err != nil || st.TeamID != tenant.TeamID || !tenant.Owns(st.ID) {
		s.mismatch(tenant, ref, "event listing outside tenant")
		return backend.ListResult{}, apperr.TenantMismatch("site not found")
	}

	lister, ok := backend.As[backend.EventLister](s.adapters.Get(backend.ParseKind(st.DBAdapter)))
	if !ok {
		return emptyList(f), nil
	}
	res, err := lister.ListEvents(ctx, tenant.TeamID, st.ID, f)
	if err != nil {
		if ctx.Err() != nil {
			return backend.ListResult{}, apperr.Cancelled(ctx.Err())
		}
		return backend.ListResult{}, apperr.Classify("list events", err)
	}
	return res, nil
}
