package backend

import (
	"context"
	"sort"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
)

// Dispatcher maps a tenant's stored adapter kind to a ready adapter. It is
// built once from explicit handles and never mutated afterwards.
type Dispatcher struct {
	adapters map[Kind]Adapter
	fallback Kind
	metrics  *obs.Metrics
}

type Option func(*Dispatcher)

// WithFallback sets the kind used for unrecognized adapter kinds. Defaults to
// KindEmbedded.
func WithFallback(k Kind) Option {
	return func(d *Dispatcher) { d.fallback = k }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(adapters map[Kind]Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[Kind]Adapter, len(adapters)),
		fallback: KindEmbedded,
	}
	for _, opt := range opts {
		opt(d)
	}
	for k, a := range adapters {
		if a == nil {
			continue
		}
		d.adapters[k] = observe(a, d.metrics)
	}
	return d
}

// Get never returns nil. Known kinds without a configured adapter (such as the
// column-store kind) get a Stub; unrecognized kinds get the fallback adapter.
func (d *Dispatcher) Get(kind Kind) Adapter {
	if a, ok := d.adapters[kind]; ok {
		return a
	}
	if isKnown(kind) {
		return Stub{kind: kind}
	}
	if a, ok := d.adapters[d.fallback]; ok {
		return a
	}
	return Stub{kind: kind}
}

// GetFor resolves the adapter from a stored db_adapter string.
func (d *Dispatcher) GetFor(dbAdapter string) Adapter {
	return d.Get(ParseKind(dbAdapter))
}

// Kinds lists the configured adapter kinds in a stable order.
func (d *Dispatcher) Kinds() []Kind {
	out := make([]Kind, 0, len(d.adapters))
	for k := range d.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isKnown(k Kind) bool {
	switch k {
	case KindPostgres, KindEmbedded, KindClickHouse:
		return true
	}
	return false
}

// Stub stands in for a backend kind that is not implemented. Reads report no
// data; writes fail as unavailable so the queue keeps the event.
type Stub struct {
	kind Kind
}

func NewStub(kind Kind) Stub { return Stub{kind: kind} }

func (s Stub) Kind() Kind { return s.kind }

func (s Stub) Insert(_ context.Context, rec model.EventRecord) (model.EventRecord, error) {
	return rec, apperr.Unavailable("backend "+string(s.kind)+" is not implemented", nil)
}

func (s Stub) QueryDashboard(_ context.Context, opts DashboardOptions) (DashboardResult, error) {
	page := opts.Page.Normalize()
	return DashboardResult{Rows: []model.EventRecord{}, Pagination: NewPageInfo(page, 0)}, nil
}

func (s Stub) SiteHasAnyEvents(context.Context, SiteRef) (bool, error) { return false, nil }

type observedAdapter struct {
	inner   Adapter
	metrics *obs.Metrics
}

func observe(a Adapter, m *obs.Metrics) Adapter {
	if m == nil {
		return a
	}
	if _, ok := a.(*observedAdapter); ok {
		return a
	}
	return &observedAdapter{inner: a, metrics: m}
}

func (o *observedAdapter) Unwrap() Adapter { return o.inner }

func (o *observedAdapter) Kind() Kind { return o.inner.Kind() }

func (o *observedAdapter) Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	start := time.Now()
	out, err := o.inner.Insert(ctx, rec)
	o.metrics.ObserveAdapter(string(o.inner.Kind()), "insert", time.Since(start), err)
	return out, err
}

// InsertBatch records a batch write as one "insert_batch" operation. Inner
// adapters without batch support get the rows one at a time.
func (o *observedAdapter) InsertBatch(ctx context.Context, rows []model.EventRecord) error {
	start := time.Now()
	var err error
	if bi, ok := o.inner.(BatchInserter); ok {
		err = bi.InsertBatch(ctx, rows)
	} else {
		for _, rec := range rows {
			if _, err = o.inner.Insert(ctx, rec); err != nil {
				break
			}
		}
	}
	o.metrics.ObserveAdapter(string(o.inner.Kind()), "insert_batch", time.Since(start), err)
	return err
}

func (o *observedAdapter) QueryDashboard(ctx context.Context, opts DashboardOptions) (DashboardResult, error) {
	start := time.Now()
	out, err := o.inner.QueryDashboard(ctx, opts)
	o.metrics.ObserveAdapter(string(o.inner.Kind()), "query_dashboard", time.Since(start), err)
	return out, err
}

func (o *observedAdapter) SiteHasAnyEvents(ctx context.Context, site SiteRef) (bool, error) {
	start := time.Now()
	ok, err := o.inner.SiteHasAnyEvents(ctx, site)
	o.metrics.ObserveAdapter(string(o.inner.Kind()), "site_has_any_events", time.Since(start), err)
	return ok, err
}
