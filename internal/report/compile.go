package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
)

const (
	eventsTable    = "events"
	timestampField = "created_at"
	unknownLabel   = "Unknown"
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Columns that exist on the table but are never queryable from a widget.
var hiddenColumns = map[string]bool{"ingest_id": true, "team_id": true}

// AllowList is an immutable snapshot of the queryable event columns.
type AllowList struct {
	cols map[string]struct{}
}

func NewAllowList(columns []string) AllowList {
	cols := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" || hiddenColumns[c] {
			continue
		}
		cols[c] = struct{}{}
	}
	return AllowList{cols: cols}
}

func (a AllowList) Has(col string) bool {
	_, ok := a.cols[col]
	return ok
}

func (a AllowList) Len() int { return len(a.cols) }

func (a AllowList) Columns() []string {
	out := make([]string, 0, len(a.cols))
	for c := range a.cols {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type fieldRef struct {
	name  string
	value string
}

func referencedFields(cfg Config) []fieldRef {
	var refs []fieldRef
	if cfg.ChartType == ChartSankey {
		refs = append(refs, fieldRef{"source_field", cfg.SourceField}, fieldRef{"target_field", cfg.TargetField})
	} else {
		refs = append(refs, fieldRef{"x_field", cfg.XField})
	}
	agg := cfg.aggregation()
	if cfg.YField != "" || agg == AggSum || agg == AggAvg {
		refs = append(refs, fieldRef{"y_field", cfg.YField})
	}
	return refs
}

// ValidateFields checks every field the widget references: first the bare
// identifier pattern, then membership in the allow-list.
func ValidateFields(cfg Config, allow AllowList) error {
	for _, f := range referencedFields(cfg) {
		if !identPattern.MatchString(f.value) {
			return apperr.InvalidField(f.name, fmt.Sprintf("%q is not a valid column name", f.value))
		}
		if !allow.Has(f.value) {
			return apperr.InvalidField(f.name, fmt.Sprintf("unknown column %q", f.value))
		}
	}
	return nil
}

// EscapeLiteral quotes s as an SQL string literal, doubling single quotes.
func EscapeLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Filters are the optional equality and date filters applied to a widget.
// SiteID adds the tenant predicate and is always set by the service.
type Filters struct {
	DateFrom  string `form:"date_from" json:"date_from,omitempty"`
	DateTo    string `form:"date_to" json:"date_to,omitempty"`
	Device    string `form:"device" json:"device,omitempty"`
	Country   string `form:"country" json:"country,omitempty"`
	City      string `form:"city" json:"city,omitempty"`
	Region    string `form:"region" json:"region,omitempty"`
	Source    string `form:"source" json:"source,omitempty"`
	Page      string `form:"page" json:"page,omitempty"`
	EventName string `form:"event_name" json:"event_name,omitempty"`
	SiteID    int64  `form:"-" json:"-"`
}

func (f Filters) equalities() []fieldRef {
	return []fieldRef{
		{"device_type", f.Device},
		{"country", f.Country},
		{"city", f.City},
		{"region", f.Region},
		{"referer", f.Source},
		{"page_url", f.Page},
		{"event", f.EventName},
	}
}

// dateBounds returns the inclusive day range, or ok=false when either bound
// is missing or malformed.
func (f Filters) dateBounds() (from, to time.Time, ok bool) {
	a, b := strings.TrimSpace(f.DateFrom), strings.TrimSpace(f.DateTo)
	if !datePattern.MatchString(a) || !datePattern.MatchString(b) {
		return time.Time{}, time.Time{}, false
	}
	from, errA := time.Parse("2006-01-02", a)
	to, errB := time.Parse("2006-01-02", b)
	if errA != nil || errB != nil {
		return time.Time{}, time.Time{}, false
	}
	return backend.StartOfDay(from), backend.EndOfDay(to), true
}

func buildWhere(f Filters, d Dialect) string {
	var conds []string
	if f.SiteID > 0 {
		conds = append(conds, backend.SitePredicate(f.SiteID))
	}
	for _, eq := range f.equalities() {
		v := strings.TrimSpace(eq.value)
		if v == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("CAST(%s AS TEXT) = %s", eq.name, EscapeLiteral(v)))
	}
	if from, to, ok := f.dateBounds(); ok {
		conds = append(conds,
			fmt.Sprintf("%s >= %s", timestampField, d.timeLiteral(from)),
			fmt.Sprintf("%s <= %s", timestampField, d.timeLiteral(to)),
		)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func metricExpr(cfg Config, d Dialect) string {
	switch cfg.aggregation() {
	case AggUniqueUsers:
		return "COUNT(DISTINCT rid)"
	case AggSum:
		return "SUM(" + d.numeric(cfg.YField) + ")"
	case AggAvg:
		return "AVG(" + d.numeric(cfg.YField) + ")"
	default:
		return "COUNT(*)"
	}
}

// CompileWidgetQuery builds the aggregate query for one widget. It returns
// either a complete query or an error, never both.
func CompileWidgetQuery(cfg Config, allow AllowList, f Filters, d Dialect) (string, error) {
	if err := cfg.Check(); err != nil {
		return "", err
	}
	if err := ValidateFields(cfg, allow); err != nil {
		return "", err
	}

	metric := metricExpr(cfg, d)
	where := buildWhere(f, d)
	limit := cfg.Limit.Rows()

	switch {
	case cfg.ChartType == ChartSankey:
		return fmt.Sprintf(
			"SELECT %[1]s AS source, %[2]s AS target, %[3]s AS value FROM %[4]s%[5]s GROUP BY %[1]s, %[2]s ORDER BY value DESC LIMIT %[6]d",
			cfg.SourceField, cfg.TargetField, metric, eventsTable, where, limit,
		), nil
	case cfg.XField == timestampField:
		bucket := d.dayBucket(timestampField)
		return fmt.Sprintf(
			"SELECT %[1]s AS x, %[2]s AS y FROM %[3]s%[4]s GROUP BY %[1]s ORDER BY x ASC",
			bucket, metric, eventsTable, where,
		), nil
	default:
		x := fmt.Sprintf("COALESCE(CAST(%s AS TEXT), %s)", cfg.XField, EscapeLiteral(unknownLabel))
		return fmt.Sprintf(
			"SELECT %[1]s AS x, %[2]s AS y FROM %[3]s%[4]s GROUP BY %[1]s ORDER BY y DESC, x ASC LIMIT %[5]d",
			x, metric, eventsTable, where, limit,
		), nil
	}
}
