package query

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/dashboard"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves GET /api/sites/:siteRef/dashboard. siteRef is either
// the numeric site id or the public tag id.
func DashboardHandler(svc *dashboard.Service, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		ref, err := site.ParseRef(c.Param("siteRef"))
		if err != nil {
			respondError(c, err)
			return
		}
		rng, err := backend.ParseDateRange(c.Query("start_date"), c.Query("end_date"))
		if err != nil {
			respondError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		data, err := svc.GetDashboardData(ctx, tenant, dashboard.Request{
			Site:  ref,
			Range: rng,
			Page:  pageFromQuery(c),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, data)
	}
}

// ListEventsHandler serves GET /api/sites/:siteRef/events.
func ListEventsHandler(svc *dashboard.Service, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		ref, err := site.ParseRef(c.Param("siteRef"))
		if err != nil {
			respondError(c, err)
			return
		}
		f := backend.ListFilters{
			EventType:  c.Query("event_type"),
			Country:    c.Query("country"),
			DeviceType: c.Query("device_type"),
			Referer:    c.Query("referer"),
			Page:       pageFromQuery(c),
		}
		if f.StartDate, err = dateParam(c, "start_date"); err != nil {
			respondError(c, err)
			return
		}
		if f.EndDate, err = dateParam(c, "end_date"); err != nil {
			respondError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		res, err := svc.ListEvents(ctx, tenant, ref, f)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, res)
	}
}

// pageFromQuery reads limit/offset. Unparseable values fall back to the
// defaults applied by backend.Page.Normalize.
func pageFromQuery(c *gin.Context) backend.Page {
	limit, _ := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	offset, _ := strconv.Atoi(strings.TrimSpace(c.Query("offset")))
	return backend.Page{Limit: limit, Offset: offset}
}

func dateParam(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.Validation(name, "expected YYYY-MM-DD")
	}
	return &t, nil
}
