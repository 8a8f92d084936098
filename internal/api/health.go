package api

import (
	"context"
	"net/http"
	"time"

	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports database and cache reachability. The cache is optional, so
// only a database failure makes the service unhealthy.
func HealthHandler(st *store.Store, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		dbState, cacheState := "up", "up"
		if err := st.Ping(ctx); err != nil {
			dbState, status, code = "down", "unavailable", http.StatusServiceUnavailable
		}
		if err := cache.Ping(ctx); err != nil {
			cacheState = "down"
			if code == http.StatusOK {
				status = "degraded"
			}
		}
		c.JSON(code, gin.H{"status": status, "database": dbState, "cache": cacheState})
	}
}
