package query

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/report"
	"github.com/gin-gonic/gin"
)

type ReportDTO struct {
	ID        int64           `json:"id"`
	SiteID    int64           `json:"site_id"`
	Name      string          `json:"name"`
	Widgets   []report.Config `json:"widgets"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func reportDTO(r model.Report, widgets []report.Config) ReportDTO {
	if widgets == nil {
		widgets = []report.Config{}
	}
	return ReportDTO{
		ID:        r.ID,
		SiteID:    r.SiteID,
		Name:      r.Name,
		Widgets:   widgets,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func CreateReportHandler(svc *report.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		var req struct {
			SiteID  int64           `json:"site_id"`
			Name    string          `json:"name"`
			Widgets []report.Config `json:"widgets"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json")
			return
		}
		if req.SiteID <= 0 {
			respondError(c, apperr.Validation("site_id", "site_id is required"))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		rep, err := svc.Create(ctx, tenant, req.SiteID, req.Name, req.Widgets)
		if err != nil {
			respondError(c, err)
			return
		}
		respondCreated(c, reportDTO(rep, req.Widgets))
	}
}

func GetReportHandler(svc *report.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		id, err := parsePositive(c.Param("reportId"), "reportId")
		if err != nil {
			respondError(c, err)
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		rep, widgets, err := svc.Get(ctx, tenant, id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, reportDTO(rep, widgets))
	}
}

func UpdateReportWidgetsHandler(svc *report.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		id, err := parsePositive(c.Param("reportId"), "reportId")
		if err != nil {
			respondError(c, err)
			return
		}
		var req struct {
			Widgets []report.Config `json:"widgets"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		rep, err := svc.UpdateWidgets(ctx, tenant, id, req.Widgets)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, reportDTO(rep, req.Widgets))
	}
}

// WidgetDataHandler serves GET /api/reports/:reportId/widgets/:index/data. The
// dashboard filter bar is passed as query parameters.
func WidgetDataHandler(svc *report.Service, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		id, err := parsePositive(c.Param("reportId"), "reportId")
		if err != nil {
			respondError(c, err)
			return
		}
		index, err := strconv.Atoi(strings.TrimSpace(c.Param("index")))
		if err != nil {
			respondError(c, apperr.Validation("index", "widget index must be an integer"))
			return
		}
		var f report.Filters
		if err := c.ShouldBindQuery(&f); err != nil {
			respondErr(c, http.StatusBadRequest, "invalid filters")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		out, err := svc.RenderWidget(ctx, tenant, id, index, f)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, out)
	}
}

func parsePositive(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(field, "must be a positive integer")
	}
	return id, nil
}
