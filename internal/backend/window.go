package backend

import (
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
)

const (
	DefaultWindow = 7 * 24 * time.Hour

	DefaultPageLimit = 100
	MaxPageLimit     = 1000

	dateLayout = "2006-01-02"
)

// DateRange is a pair of calendar days in UTC. Only the date part is used.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds. Both empty means no range.
func ParseDateRange(from, to string) (*DateRange, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, apperr.Validation("date_range", "both start and end dates are required")
	}
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, apperr.Validation("start_date", "expected YYYY-MM-DD")
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, apperr.Validation("end_date", "expected YYYY-MM-DD")
	}
	if t.Before(f) {
		return nil, apperr.Validation("date_range", "end date is before start date")
	}
	return &DateRange{From: f, To: t}, nil
}

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// ResolveWindow turns an optional date range into a concrete window. Without a
// range it is the rolling DefaultWindow ending at now.
func ResolveWindow(now time.Time, r *DateRange) Window {
	if r == nil {
		now = now.UTC()
		return Window{Start: now.Add(-DefaultWindow), End: now}
	}
	return Window{Start: StartOfDay(r.From), End: EndOfDay(r.To)}
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns 23:59:59.999 UTC of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type PageInfo struct {
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"hasMore"`
}

// NewPageInfo computes HasMore from the total rather than the page size, so
// it stays correct when limit exceeds the remaining rows.
func NewPageInfo(p Page, total int64) PageInfo {
	return PageInfo{
		Offset:  p.Offset,
		Limit:   p.Limit,
		Total:   total,
		HasMore: int64(p.Offset)+int64(p.Limit) < total,
	}
}
