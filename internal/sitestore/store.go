// Package sitestore is the embedded backend: every site owns a private SQLite
// database, so tenant isolation needs no predicates.
package sitestore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/store"
	"gorm.io/gorm"
)

type State int32

const (
	StateUninitialized State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "uninitialized"
}

// Store is the durable event store of a single site.
type Store struct {
	siteID int64
	db     *gorm.DB
	state  atomic.Int32

	mu      sync.Mutex
	refs    int
	retired bool
	closeFn func() error
}

func newStore(siteID int64, db *gorm.DB, closeFn func() error) *Store {
	return &Store{siteID: siteID, db: db, closeFn: closeFn}
}

func (s *Store) SiteID() int64 { return s.siteID }

func (s *Store) State() State { return State(s.state.Load()) }

func (s *Store) activate() { s.state.Store(int32(StateActive)) }

// Insert persists one event for this site. The record's site id is forced to
// the store's own id.
func (s *Store) Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error) {
	if strings.TrimSpace(rec.Event) == "" {
		return model.EventRecord{}, apperr.Validation("event", "event is required")
	}
	if strings.TrimSpace(rec.TagID) == "" {
		return model.EventRecord{}, apperr.Validation("tag_id", "tag_id is required")
	}
	rec.SiteID = s.siteID
	out, err := store.InsertEvent(ctx, s.db, rec)
	if err != nil {
		return model.EventRecord{}, err
	}
	s.activate()
	return out, nil
}

func (s *Store) InsertBatch(ctx context.Context, rows []model.EventRecord) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].SiteID = s.siteID
	}
	if err := store.InsertEventsBatch(ctx, s.db, rows); err != nil {
		return err
	}
	s.activate()
	return nil
}

// ListEvents pages through the site's events. An uninitialized store answers
// with an empty page without touching the database.
func (s *Store) ListEvents(ctx context.Context, f backend.ListFilters) (backend.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return backend.ListResult{}, apperr.Cancelled(err)
	}
	if s.State() == StateUninitialized {
		return backend.ListResult{
			Events:     []model.EventRecord{},
			Pagination: backend.NewPageInfo(f.Normalize().Page, 0),
		}, nil
	}
	return store.ListEvents(ctx, s.db, nil, f)
}

func (s *Store) QueryDashboard(ctx context.Context, w backend.Window, page backend.Page) (backend.DashboardResult, error) {
	if s.State() == StateUninitialized {
		page = page.Normalize()
		return backend.DashboardResult{Rows: []model.EventRecord{}, Pagination: backend.NewPageInfo(page, 0)}, nil
	}
	return store.QueryDashboard(ctx, s.db, nil, w, page)
}

func (s *Store) HasAnyEvents(ctx context.Context) (bool, error) {
	if s.State() == StateUninitialized {
		return false, nil
	}
	return store.HasAnyEvents(ctx, s.db, nil)
}

func (s *Store) RunAggregate(ctx context.Context, query string) ([]map[string]any, error) {
	return store.RunAggregate(ctx, s.db, query)
}

func (s *Store) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	s.refs++
	return true
}

func (s *Store) release() {
	s.mu.Lock()
	s.refs--
	closeNow := s.retired && s.refs == 0
	s.mu.Unlock()
	if closeNow {
		_ = s.closeFn()
	}
}

// retire closes the handle once the last in-flight caller releases it.
func (s *Store) retire() {
	s.mu.Lock()
	s.retired = true
	closeNow := s.refs == 0
	s.mu.Unlock()
	if closeNow {
		_ = s.closeFn()
	}
}
