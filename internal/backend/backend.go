// Package backend defines the storage contract every event backend implements
// and the dispatcher that picks one per tenant.
//
// Adapters must honour the same window, ordering and pagination rules so the
// dashboard and report layers never need to know which backend served them:
//
//   - rows are ordered newest first, ties broken by id descending;
//   - a date range end is inclusive through 23:59:59.999 UTC;
//   - with no range the window is the rolling 7 days ending now;
//   - exactly one of numeric site id or tag id identifies the site.
package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
)

type Kind string

const (
	KindPostgres   Kind = "postgres"
	KindEmbedded   Kind = "embedded"
	KindClickHouse Kind = "clickhouse"
)

// ParseKind normalizes a stored db_adapter value. Aliases used by older site
// records map onto the canonical kinds; anything else is returned as-is and
// left for the dispatcher to fall back on.
func ParseKind(s string) Kind {
	switch k := strings.ToLower(strings.TrimSpace(s)); k {
	case "postgres", "postgresql", "pg", "relational":
		return KindPostgres
	case "", "embedded", "sqlite", "durable", "durable_object":
		return KindEmbedded
	case "clickhouse", "columnar":
		return KindClickHouse
	default:
		return Kind(k)
	}
}

// SiteRef identifies a site by exactly one of its numeric id or public tag id.
type SiteRef struct {
	ID    int64  `json:"site_id,omitempty"`
	TagID string `json:"tag_id,omitempty"`
}

func (r SiteRef) Validate() error {
	hasID := r.ID > 0
	hasTag := strings.TrimSpace(r.TagID) != ""
	switch {
	case hasID && hasTag:
		return apperr.Validation("site", "use either site_id or tag_id, not both")
	case !hasID && !hasTag:
		return apperr.Validation("site", "site_id or tag_id is required")
	}
	return nil
}

func (r SiteRef) String() string {
	if r.ID > 0 {
		return fmt.Sprintf("site_id=%d", r.ID)
	}
	return "tag_id=" + r.TagID
}

type DashboardOptions struct {
	Site   SiteRef
	TeamID int64
	Window Window
	Page   Page
}

type DashboardResult struct {
	Rows          []model.EventRecord `json:"rows"`
	TotalMatching int64               `json:"totalMatching"`
	TotalAllTime  int64               `json:"totalAllTime"`
	Pagination    PageInfo            `json:"pagination"`
}

// Adapter is the storage contract for one backend technology.
type Adapter interface {
	Kind() Kind
	// Insert persists one canonical event atomically and returns the stored row.
	Insert(ctx context.Context, rec model.EventRecord) (model.EventRecord, error)
	QueryDashboard(ctx context.Context, opts DashboardOptions) (DashboardResult, error)
	SiteHasAnyEvents(ctx context.Context, site SiteRef) (bool, error)
}

// EventLister is implemented by adapters that support filtered event listing.
type EventLister interface {
	ListEvents(ctx context.Context, teamID, siteID int64, f ListFilters) (ListResult, error)
}

// AggregateRunner executes a compiled report query verbatim.
type AggregateRunner interface {
	Dialect() string
	RunAggregate(ctx context.Context, siteID int64, query string) ([]map[string]any, error)
}

// BatchInserter writes many canonical records in one round trip.
type BatchInserter interface {
	InsertBatch(ctx context.Context, rows []model.EventRecord) error
}

// ColumnSource reports the real column names of the event table.
type ColumnSource interface {
	Columns(ctx context.Context) ([]string, error)
}

// SitePredicate is the literal tenant predicate compiled aggregate queries
// carry.
func SitePredicate(siteID int64) string {
	return fmt.Sprintf("site_id = %d", siteID)
}

var (
	sqlLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	sqlWhere   = regexp.MustCompile(`(?i)\bWHERE\b`)
	sqlOr      = regexp.MustCompile(`(?i)\bOR\b`)
)

// ScopedToSite reports whether a compiled aggregate query is confined to one
// site: a single WHERE clause that opens with the site predicate, followed by
// AND-joined conditions or the end of the clause, and no OR outside string
// literals.
func ScopedToSite(query string, siteID int64) bool {
	if siteID <= 0 {
		return false
	}
	bare := sqlLiteral.ReplaceAllString(query, "''")
	if strings.Contains(bare, ";") || sqlOr.MatchString(bare) || len(sqlWhere.FindAllStringIndex(bare, -1)) != 1 {
		return false
	}
	head := "WHERE " + SitePredicate(siteID)
	at := strings.Index(bare, head)
	if at < 0 {
		return false
	}
	rest := bare[at+len(head):]
	if rest == "" {
		return true
	}
	for _, next := range []string{" AND ", " GROUP BY ", " ORDER BY ", " LIMIT "} {
		if strings.HasPrefix(rest, next) {
			return true
		}
	}
	return false
}

// As finds a capability on an adapter, looking through wrappers that expose
// Unwrap.
func As[T any](a Adapter) (T, bool) {
	for a != nil {
		if v, ok := a.(T); ok {
			return v, true
		}
		u, ok := a.(interface{ Unwrap() Adapter })
		if !ok {
			break
		}
		a = u.Unwrap()
	}
	var zero T
	return zero, false
}
