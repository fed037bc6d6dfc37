// Package dashboard answers the per-site dashboard request: the rows of a
// window plus an existence probe that tells "no events yet" apart from
// "filtered to zero".
package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Adapters hands out the backend for a tenant's adapter kind.
type Adapters interface {
	Get(kind backend.Kind) backend.Adapter
}

type Request struct {
	Site  backend.SiteRef
	Range *backend.DateRange
	Page  backend.Page
}

type Data struct {
	backend.DashboardResult
	HasAnyEvents bool `json:"hasAnyEvents"`
}

func emptyData(page backend.Page) Data {
	return Data{DashboardResult: backend.DashboardResult{
		Rows:       []model.EventRecord{},
		Pagination: backend.NewPageInfo(page.Normalize(), 0),
	}}
}

type Service struct {
	adapters Adapters
	sites    site.Resolver
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(adapters Adapters, sites site.Resolver, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		adapters: adapters,
		sites:    sites,
		log:      log.WithField("component", "dashboard"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetDashboardData resolves the site, checks it belongs to the tenant and
// runs the window query and the existence probe concurrently. Sites outside
// the tenant produce an empty result, never an error.
func (s *Service) GetDashboardData(ctx context.Context, tenant site.Tenant, req Request) (Data, error) {
	if err := req.Site.Validate(); err != nil {
		return Data{}, err
	}
	if len(tenant.SiteIDs) == 0 {
		return emptyData(req.Page), nil
	}

	st, err := s.sites.Resolve(ctx, req.Site)
	if errors.Is(err, apperr.ErrTenantMismatch) {
		s.mismatch(tenant, req.Site, "unknown site")
		return emptyData(req.Page), nil
	}
	if err != nil {
		return Data{}, apperr.Classify("resolve site", err)
	}
	if st.TeamID != tenant.TeamID || !tenant.Owns(st.ID) {
		s.mismatch(tenant, req.Site, "site owned by another team")
		return emptyData(req.Page), nil
	}

	adapter := s.adapters.Get(backend.ParseKind(st.DBAdapter))
	ref := backend.SiteRef{ID: st.ID}
	opts := backend.DashboardOptions{
		Site:   ref,
		TeamID: tenant.TeamID,
		Window: backend.ResolveWindow(s.now(), req.Range),
		Page:   req.Page,
	}

	var (
		res backend.DashboardResult
		has bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = adapter.QueryDashboard(gctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		has, err = adapter.SiteHasAnyEvents(gctx, ref)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return Data{}, apperr.Cancelled(ctx.Err())
		}
		return Data{}, apperr.Classify("query dashboard", err)
	}
	if res.Rows == nil {
		res.Rows = []model.EventRecord{}
	}
	return Data{DashboardResult: res, HasAnyEvents: has}, nil
}

func (s *Service) mismatch(tenant site.Tenant, ref backend.SiteRef, reason string) {
	s.log.WithFields(logrus.Fields{
		"kind":    apperr.KindTenantMismatch,
		"team_id": tenant.TeamID,
		"site":    ref.String(),
	}).Debug(reason)
}
