package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/gin-gonic/gin"
)

const (
	ctxTenantKey = "tenant"
	headerTeamID = "X-Team-Id"
)

// TenantLoader loads the sites a team owns.
type TenantLoader interface {
	LoadTenant(ctx context.Context, teamID int64) (site.Tenant, error)
}

// RequireTenant resolves the acting team from X-Team-Id, which an upstream
// gateway sets after authenticating the caller.
func RequireTenant(loader TenantLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerTeamID))
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "err": "X-Team-Id required"})
			c.Abort()
			return
		}
		teamID, err := site.ParseTeamID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "err": "invalid X-Team-Id"})
			c.Abort()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		tenant, err := loader.LoadTenant(ctx, teamID)
		if err != nil {
			status := apperr.HTTPStatus(err)
			msg := "tenant lookup failed"
			if apperr.IsKind(err, apperr.KindTenantMismatch) {
				msg = "team not found"
			}
			_ = c.Error(err)
			c.JSON(status, gin.H{"code": status, "err": msg})
			c.Abort()
			return
		}
		c.Set(ctxTenantKey, tenant)
		c.Next()
	}
}
