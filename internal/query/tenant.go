package query

import (
	"github.com/aak1247/sitetap/internal/site"
	"github.com/gin-gonic/gin"
)

// ctxTenantKey is set by the tenant middleware in httpserver.
const ctxTenantKey = "tenant"

func tenantFromGin(c *gin.Context) (site.Tenant, bool) {
	v, ok := c.Get(ctxTenantKey)
	if !ok {
		return site.Tenant{}, false
	}
	t, ok := v.(site.Tenant)
	return t, ok && t.TeamID > 0
}
