package backend

import (
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/model"
)

// ListFilters narrows an event listing. Empty fields impose no constraint;
// supplied ones are combined with AND.
type ListFilters struct {
	StartDate  *time.Time
	EndDate    *time.Time
	EventType  string
	Country    string
	DeviceType string
	Referer    string
	Page       Page
}

// Normalize applies defaults and moves EndDate to the end of its day.
func (f ListFilters) Normalize() ListFilters {
	f.EventType = strings.TrimSpace(f.EventType)
	f.Country = strings.TrimSpace(f.Country)
	f.DeviceType = strings.TrimSpace(f.DeviceType)
	f.Referer = strings.TrimSpace(f.Referer)
	if f.StartDate != nil {
		s := f.StartDate.UTC()
		f.StartDate = &s
	}
	if f.EndDate != nil {
		e := EndOfDay(*f.EndDate)
		f.EndDate = &e
	}
	f.Page = f.Page.Normalize()
	return f
}

// Active reports whether any row-narrowing filter is set.
func (f ListFilters) Active() bool {
	return f.StartDate != nil || f.EndDate != nil ||
		f.EventType != "" || f.Country != "" || f.DeviceType != "" || f.Referer != ""
}

// ListResult is the listing page. When the store could not produce a row set
// Error is true and Events is nil; callers render a retry state.
type ListResult struct {
	Events       []model.EventRecord `json:"events"`
	Pagination   PageInfo            `json:"pagination"`
	TotalAllTime int64               `json:"totalAllTime"`
	Error        bool                `json:"error"`
}
