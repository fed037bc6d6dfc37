package httpserver

import (
	"net/http"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/config"
	"github.com/aak1247/sitetap/internal/dashboard"
	"github.com/aak1247/sitetap/internal/ingest"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/aak1247/sitetap/internal/openapi"
	"github.com/aak1247/sitetap/internal/query"
	"github.com/aak1247/sitetap/internal/queue"
	"github.com/aak1247/sitetap/internal/report"
	"github.com/aak1247/sitetap/internal/site"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swgui "github.com/swaggest/swgui/v3"
	"gorm.io/gorm"
)

// Deps are the handles the HTTP layer serves from. Everything is built by the
// caller; the server never opens connections itself.
type Deps struct {
	Publisher queue.Publisher
	DB        *gorm.DB
	Directory *site.Directory
	Dashboard *dashboard.Service
	Reports   *report.Service
	Kinds     []backend.Kind
	Metrics   *obs.Metrics
	Gatherer  prometheus.Gatherer
	Log       logrus.FieldLogger
}

func New(cfg config.Config, deps Deps) *http.Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 15 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogMiddleware(deps.Log))
	router.Use(observabilityMiddleware(deps.Metrics))
	router.Use(corsMiddleware())
	router.Use(maintenanceMiddleware(cfg.MaintenanceMode))

	router.GET("/openapi.json", func(c *gin.Context) { c.JSON(http.StatusOK, openapi.Spec()) })
	router.GET("/docs/*any", gin.WrapH(swgui.New("sitetap API", "/openapi.json", "/docs")))

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	apiRoot := router.Group("/api")
	{
		apiRoot.GET("/status", query.StatusHandler(deps.DB, cfg.MaintenanceMode, deps.Kinds))
		if deps.Publisher != nil {
			apiRoot.POST("/collect/:tagId", ingest.CollectHandler(deps.Publisher))
		}
		apiRoot.POST("/teams", query.CreateTeamHandler(deps.Directory))
	}

	tenantAPI := router.Group("/api")
	tenantAPI.Use(RequireTenant(deps.Directory))
	{
		tenantAPI.GET("/sites", query.ListSitesHandler(deps.Directory))
		tenantAPI.POST("/sites", query.CreateSiteHandler(deps.Directory))
		tenantAPI.GET("/sites/:siteRef/dashboard", query.DashboardHandler(deps.Dashboard, queryTimeout))
		tenantAPI.GET("/sites/:siteRef/events", query.ListEventsHandler(deps.Dashboard, queryTimeout))

		tenantAPI.POST("/reports", query.CreateReportHandler(deps.Reports))
		tenantAPI.GET("/reports/:reportId", query.GetReportHandler(deps.Reports))
		tenantAPI.PUT("/reports/:reportId/widgets", query.UpdateReportWidgetsHandler(deps.Reports))
		tenantAPI.GET("/reports/:reportId/widgets/:index/data", query.WidgetDataHandler(deps.Reports, queryTimeout))
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
