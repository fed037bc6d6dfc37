package sitestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/store"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultMaxOpen = 256

type Options struct {
	// Dir holds one database file per site. Empty keeps every store in memory
	// for the life of the registry.
	Dir     string
	MaxOpen int
	Logger  logrus.FieldLogger
	Metrics *obs.Metrics
}

// Registry opens per-site stores lazily and bounds the number of open file
// handles with an LRU.
type Registry struct {
	dir     string
	nonce   string
	log     logrus.FieldLogger
	metrics *obs.Metrics

	mu     sync.Mutex
	cache  *lru.Cache[int64, *Store]
	mem    map[int64]*Store
	schema *gorm.DB
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = defaultMaxOpen
	}
	r := &Registry{
		dir:     opts.Dir,
		nonce:   uuid.NewString(),
		log:     opts.Logger.WithField("component", "sitestore"),
		metrics: opts.Metrics,
	}

	if r.dir == "" {
		r.mem = map[int64]*Store{}
	} else {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		cache, err := lru.NewWithEvict[int64, *Store](opts.MaxOpen, func(siteID int64, s *Store) {
			r.log.WithField("site_id", siteID).Debug("closing evicted site store")
			s.retire()
		})
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}

	schema, err := openSQLite(fmt.Sprintf("file:sitetap-%s-schema?mode=memory&cache=shared", r.nonce), 1)
	if err != nil {
		return nil, err
	}
	if err := schema.AutoMigrate(&model.EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema probe: %w", err)
	}
	r.schema = schema
	return r, nil
}

func openSQLite(dsn string, maxOpen int) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	return gdb, nil
}

func (r *Registry) path(siteID int64) string {
	return filepath.Join(r.dir, fmt.Sprintf("site-%d.db", siteID))
}

func (r *Registry) dsn(siteID int64) (string, int) {
	if r.dir == "" {
		return fmt.Sprintf("file:sitetap-%s-site-%d?mode=memory&cache=shared", r.nonce, siteID), 1
	}
	return r.path(siteID) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", 4
}

func noop() {}

// Acquire returns the site's store and a release func the caller must call
// when done. With create=false a site that has never been written returns a
// nil store and no error.
func (r *Registry) Acquire(ctx context.Context, siteID int64, create bool) (*Store, func(), error) {
	if siteID <= 0 {
		return nil, noop, apperr.Validation("site_id", "site_id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.lookup(siteID); ok && s.acquire() {
		return s, s.release, nil
	}
	if !create && !r.exists(siteID) {
		return nil, noop, nil
	}

	s, err := r.open(ctx, siteID)
	if err != nil {
		return nil, noop, err
	}
	s.acquire()
	r.add(siteID, s)
	return s, s.release, nil
}

func (r *Registry) lookup(siteID int64) (*Store, bool) {
	if r.mem != nil {
		s, ok := r.mem[siteID]
		return s, ok
	}
	return r.cache.Get(siteID)
}

func (r *Registry) exists(siteID int64) bool {
	if r.mem != nil {
		return false
	}
	_, err := os.Stat(r.path(siteID))
	return !errors.Is(err, fs.ErrNotExist)
}

func (r *Registry) add(siteID int64, s *Store) {
	if r.mem != nil {
		r.mem[siteID] = s
		r.metrics.SetEmbeddedOpen(len(r.mem))
		return
	}
	r.cache.Add(siteID, s)
	r.metrics.SetEmbeddedOpen(r.cache.Len())
}

func (r *Registry) open(ctx context.Context, siteID int64) (*Store, error) {
	dsn, maxOpen := r.dsn(siteID)
	gdb, err := openSQLite(dsn, maxOpen)
	if err != nil {
		return nil, apperr.Unavailable(fmt.Sprintf("open store for site %d", siteID), err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, apperr.Internal("open store", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&model.EventRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, apperr.Classify(fmt.Sprintf("migrate store for site %d", siteID), err)
	}

	s := newStore(siteID, gdb, sqlDB.Close)
	has, err := store.HasAnyEvents(ctx, gdb, nil)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if has {
		s.activate()
	}
	r.log.WithFields(logrus.Fields{"site_id": siteID, "state": s.State()}).Debug("opened site store")
	return s, nil
}

// Columns reports the event table's real columns from an empty schema probe.
func (r *Registry) Columns(ctx context.Context) ([]string, error) {
	return store.EventColumns(ctx, r.schema)
}

// Open reports how many site stores currently hold a handle.
func (r *Registry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem != nil {
		return len(r.mem)
	}
	return r.cache.Len()
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem != nil {
		for id, s := range r.mem {
			s.retire()
			delete(r.mem, id)
		}
	} else {
		r.cache.Purge()
	}
	r.metrics.SetEmbeddedOpen(0)
	if r.schema != nil {
		if sqlDB, err := r.schema.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
