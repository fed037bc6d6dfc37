package report

import (
	"context"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/sirupsen/logrus"
)

type Adapters interface {
	Get(kind backend.Kind) backend.Adapter
}

// BuildAllowLists snapshots the event columns of every adapter that can report
// them. It runs once at startup; the result is never mutated.
func BuildAllowLists(ctx context.Context, adapters Adapters, kinds []backend.Kind) (map[backend.Kind]AllowList, error) {
	out := make(map[backend.Kind]AllowList, len(kinds))
	for _, k := range kinds {
		cs, ok := backend.As[backend.ColumnSource](adapters.Get(k))
		if !ok {
			continue
		}
		cols, err := cs.Columns(ctx)
		if err != nil {
			return nil, err
		}
		out[k] = NewAllowList(cols)
	}
	return out, nil
}

type Rendered struct {
	Widget Config `json:"widget"`
	Series Series `json:"series"`
}

type Service struct {
	repo     *Repository
	adapters Adapters
	sites    site.Resolver
	allow    map[backend.Kind]AllowList
	metrics  *obs.Metrics
	log      logrus.FieldLogger
}

func NewService(repo *Repository, adapters Adapters, sites site.Resolver, allow map[backend.Kind]AllowList, m *obs.Metrics, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:     repo,
		adapters: adapters,
		sites:    sites,
		allow:    allow,
		metrics:  m,
		log:      log.WithField("component", "report"),
	}
}

// ownedSite resolves a site and checks the tenant owns it.
func (s *Service) ownedSite(ctx context.Context, tenant site.Tenant, siteID int64) (model.Site, error) {
	st, err := s.sites.Resolve(ctx, backend.SiteRef{ID: siteID})
	if err != nil {
		return model.Site{}, err
	}
	if st.TeamID != tenant.TeamID || !tenant.Owns(st.ID) {
		return model.Site{}, apperr.TenantMismatch("site not found")
	}
	return st, nil
}

// checkWidgets validates widgets against the schema of the site's backend so
// broken configs are rejected when saved rather than on every render.
func (s *Service) checkWidgets(st model.Site, widgets []Config) error {
	allow := s.allow[s.adapters.Get(backend.ParseKind(st.DBAdapter)).Kind()]
	for _, w := range widgets {
		if err := w.Check(); err != nil {
			return err
		}
		if allow.Len() == 0 {
			continue
		}
		if err := ValidateFields(w, allow); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, tenant site.Tenant, siteID int64, name string, widgets []Config) (model.Report, error) {
	st, err := s.ownedSite(ctx, tenant, siteID)
	if err != nil {
		return model.Report{}, err
	}
	if err := s.checkWidgets(st, widgets); err != nil {
		return model.Report{}, err
	}
	return s.repo.Create(ctx, tenant.TeamID, st.ID, name, widgets)
}

func (s *Service) Get(ctx context.Context, tenant site.Tenant, reportID int64) (model.Report, []Config, error) {
	rep, err := s.repo.Get(ctx, tenant.TeamID, reportID)
	if err != nil {
		return model.Report{}, nil, err
	}
	widgets, err := DecodeWidgets(rep.Widgets)
	if err != nil {
		return model.Report{}, nil, err
	}
	return rep, widgets, nil
}

func (s *Service) UpdateWidgets(ctx context.Context, tenant site.Tenant, reportID int64, widgets []Config) (model.Report, error) {
	rep, err := s.repo.Get(ctx, tenant.TeamID, reportID)
	if err != nil {
		return model.Report{}, err
	}
	st, err := s.ownedSite(ctx, tenant, rep.SiteID)
	if err != nil {
		return model.Report{}, err
	}
	if err := s.checkWidgets(st, widgets); err != nil {
		return model.Report{}, err
	}
	return s.repo.UpdateWidgets(ctx, tenant.TeamID, reportID, widgets)
}

// RenderWidget recompiles one stored widget for the report's site and runs it
// on that site's backend. Backends that cannot run aggregates render empty.
func (s *Service) RenderWidget(ctx context.Context, tenant site.Tenant, reportID int64, index int, f Filters) (Rendered, error) {
	rep, widgets, err := s.Get(ctx, tenant, reportID)
	if err != nil {
		return Rendered{}, err
	}
	if index < 0 || index >= len(widgets) {
		return Rendered{}, apperr.Validation("index", "widget index out of range")
	}
	cfg := widgets[index]

	st, err := s.ownedSite(ctx, tenant, rep.SiteID)
	if err != nil {
		return Rendered{}, err
	}
	adapter := s.adapters.Get(backend.ParseKind(st.DBAdapter))
	runner, ok := backend.As[backend.AggregateRunner](adapter)
	if !ok {
		return Rendered{Widget: cfg, Series: MapRows(cfg, nil)}, nil
	}
	allow, ok := s.allow[adapter.Kind()]
	if !ok {
		return Rendered{}, apperr.Internal("no column snapshot for backend "+string(adapter.Kind()), nil)
	}

	f.SiteID = st.ID
	query, err := CompileWidgetQuery(cfg, allow, f, ParseDialect(runner.Dialect()))
	if err != nil {
		s.metrics.ObserveCompileFailure(string(apperr.KindOf(err)))
		return Rendered{}, err
	}
	rows, err := runner.RunAggregate(ctx, st.ID, query)
	if err != nil {
		err = apperr.Classify("run widget query", err)
		s.log.WithError(err).WithFields(logrus.Fields{"report_id": reportID, "widget": index}).Warn("widget query failed")
		return Rendered{}, err
	}
	return Rendered{Widget: cfg, Series: MapRows(cfg, rows)}, nil
}
