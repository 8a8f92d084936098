package api

import (
	"finance_tracker/internal/middleware"
	"finance_tracker/internal/realtime"
	"finance_tracker/internal/service"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface is built from
type Deps struct {
	Store        *store.Store
	Transactions *service.TransactionService
	Cache        *utils.Cache
	Hub          *realtime.Hub
	JWTSecret    string
}

// NewRouter registers every route on a fresh engine
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", HealthHandler(d.Store, d.Cache))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", d.Hub.ServeWS)

	apiGroup := r.Group("/api")

	// Auth routes
	auth := apiGroup.Group("/auth")
	auth.POST("/register", RegisterHandler(d.Store))
	auth.POST("/login", LoginHandler(d.Store, d.JWTSecret))

	// Everything below requires a bearer token
	protected := apiGroup.Group("")
	protected.Use(middleware.JWTAuthMiddleware(d.JWTSecret))

	txs := protected.Group("/transactions")
	txs.GET("", ListTransactionsHandler(d.Transactions))
	txs.POST("", CreateTransactionHandler(d.Transactions))
	txs.GET("/:id", GetTransactionHandler(d.Transactions))
	txs.PUT("/:id", UpdateTransactionHandler(d.Transactions))
	txs.DELETE("/:id", DeleteTransactionHandler(d.Transactions))
	txs.GET("/:id/history", TransactionHistoryHandler(d.Transactions))

	notes := protected.Group("/notifications")
	notes.GET("", ListNotificationsHandler(d.Store))
	notes.POST("/read-all", MarkAllNotificationsReadHandler(d.Store))
	notes.POST("/:id/read", MarkNotificationReadHandler(d.Store))

	// Admin routes (admin only)
	admin := protected.Group("/admin")
	admin.Use(middleware.AdminOnlyMiddleware(d.Store))
	admin.GET("/users", ListUsersHandler(d.Store, d.Cache, d.Hub))
	admin.GET("/presence", PresenceHandler(d.Hub))

	return r
}
