package query

import (
	"context"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SystemStatus string

const (
	SystemStatusRunning     SystemStatus = "running"
	SystemStatusMaintenance SystemStatus = "maintenance"
	SystemStatusException   SystemStatus = "exception"
)

// StatusHandler reports whether the control-plane database answers and which
// backend kinds this process serves.
func StatusHandler(db *gorm.DB, maintenanceMode bool, kinds []backend.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"backends": kinds}
		if maintenanceMode {
			body["status"] = SystemStatusMaintenance
			body["message"] = "maintenance"
			respondOK(c, body)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			body["status"] = SystemStatusException
			body["message"] = "database unavailable"
			respondOK(c, body)
			return
		}
		body["status"] = SystemStatusRunning
		respondOK(c, body)
	}
}
