package http

import (
	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/auth"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.Use(auth.SecurityHeadersMiddleware())
	if cfg.SecureCookies {
		router.Use(auth.StrictTransportSecurityMiddleware(31536000))
	}

	// Sessions load before CSRF so that CSRF can see the session cookie and
	// the auth middleware can read the session.
	if cfg.SessionManager != nil {
		router.Use(cfg.SessionManager.LoadAndSave())
	}
	if len(cfg.CSRFSecret) > 0 {
		router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, cfg.SecureCookies, cfg.AuthService, auth.SessionCookieName))
	}
	router.Use(cfg.AuthMiddleware.Handler())

	elevated := cfg.AuthMiddleware.RequireElevated()

	// Health endpoints
	health := NewHealthController(cfg.Database, cfg.Scheduler, cfg.Version)
	router.GET("/health", health.Status)
	router.GET("/ping", health.Ping)

	// Auth endpoints
	if cfg.AuthService != nil && cfg.SessionManager != nil {
		authController := auth.NewAuthController(cfg.AuthService, cfg.SessionManager, cfg.LoginAuditor)
		router.POST("/api/auth/login", authController.Login)
		router.POST("/api/auth/logout", authController.Logout)
		router.POST("/api/auth/token", authController.IssueToken)
		router.DELETE("/api/auth/token", authController.RevokeToken)
		router.GET("/api/auth/me", authController.Me)
	}

	api := router.Group("/api")

	// Catalog
	books := NewBooksController(cfg.Books, cfg.Loans)
	api.GET("/books", books.ListBooks)
	api.GET("/books/stats", books.GetStats)
	api.GET("/books/:id", books.GetBook)
	api.POST("/books", elevated, books.CreateBook)
	api.POST("/books/:id/copies", elevated, books.AddCopies)

	// Borrow and return
	circulation := NewCirculationController(cfg.Circulation, cfg.Loans)
	api.POST("/borrows", circulation.Borrow)
	api.GET("/borrows", circulation.ListLoans)
	api.GET("/borrows/stats", elevated, circulation.Stats)
	api.GET("/borrows/:id", circulation.GetLoan)
	api.POST("/returns", circulation.Return)

	// Penalties
	penalties := NewPenaltiesController(cfg.Penalties, cfg.PenaltyAuditor)
	api.GET("/penalties", penalties.ListPenalties)
	api.POST("/penalties", elevated, penalties.CreatePenalty)
	api.PUT("/penalties/:id", penalties.UpdatePenaltyStatus)

	// Notifications
	notifications := NewNotificationsController(cfg.Notifications)
	api.GET("/notifications", notifications.List)
	api.GET("/notifications/unread-count", notifications.UnreadCount)
	api.PUT("/notifications/read-all", notifications.MarkAllRead)
	api.PUT("/notifications/:id/read", notifications.MarkRead)

	// Operator endpoints
	admin := api.Group("/admin", elevated)
	reconciliation := NewReconciliationController(cfg.Scheduler, cfg.Runs, cfg.TaskQueue)
	admin.POST("/reconciliation/run", reconciliation.Run)
	admin.POST("/reconciliation/enqueue", reconciliation.Enqueue)
	admin.GET("/reconciliation/runs", reconciliation.ListRuns)
	admin.GET("/reconciliation/runs/:run_id", reconciliation.GetRun)
	admin.GET("/reconciliation/status", reconciliation.Status)
	admin.PUT("/reconciliation/schedule", reconciliation.UpdateSchedule)

	if cfg.Users != nil {
		users := NewUsersController(cfg.Users)
		admin.GET("/users", users.ListUsers)
	}

	if cfg.AuditReader != nil {
		audit := NewAuditController(cfg.AuditReader)
		admin.GET("/audit", audit.ListEvents)
	}

	// Task management endpoints
	if cfg.TaskQueue != nil {
		tasksController := NewTasksController(cfg.TaskQueue)
		api.GET("/tasks/types", elevated, tasksController.ListTaskTypes)
		api.GET("/tasks/:id", elevated, tasksController.GetTaskStatus)
		api.POST("/tasks/:type/run", elevated, tasksController.RunTask)
	}

	return router
}
