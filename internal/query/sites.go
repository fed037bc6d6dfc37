package query

import (
	"context"
	"net/http"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/gin-gonic/gin"
)

func ListSitesHandler(dir *site.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		items, err := dir.ListByTeam(ctx, tenant.TeamID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{"items": items})
	}
}

func CreateSiteHandler(dir *site.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantFromGin(c)
		if !ok {
			respondErr(c, http.StatusUnauthorized, "tenant required")
			return
		}
		var req struct {
			Domain string `json:"domain"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		s, err := dir.Create(ctx, tenant.TeamID, req.Domain)
		if err != nil {
			respondError(c, err)
			return
		}
		respondCreated(c, s)
	}
}

// CreateTeamHandler provisions a team. It sits outside the tenant group since
// the caller has no team yet.
func CreateTeamHandler(dir *site.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      string `json:"name"`
			DBAdapter string `json:"db_adapter"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		kind := backend.Kind("")
		if req.DBAdapter != "" {
			kind = backend.ParseKind(req.DBAdapter)
		}
		team, err := dir.CreateTeam(ctx, req.Name, kind)
		if err != nil {
			respondError(c, err)
			return
		}
		respondCreated(c, team)
	}
}
