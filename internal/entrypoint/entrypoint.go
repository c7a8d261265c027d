package entrypoint

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/audit"
	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database"
	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/database/books"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/database/notifications"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/database/runs"
	"github.com/mrlokans/librarian/internal/database/users"
	http_controllers "github.com/mrlokans/librarian/internal/http"
	"github.com/mrlokans/librarian/internal/mailer"
	"github.com/mrlokans/librarian/internal/reconcile"
	"github.com/mrlokans/librarian/internal/scheduler"
	"github.com/mrlokans/librarian/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server at %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// kill (no param) sends SIGTERM, kill -2 is SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop background work first so no new batches start during shutdown.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// NewReconcileEngine builds the reconciliation engine with its run history,
// mail delivery and audit trail attached.
func NewReconcileEngine(cfg *config.Config, db *gorm.DB, auditor *audit.Service) *reconcile.Engine {
	engine := reconcile.NewEngine(
		loans.NewRepository(db),
		penalties.NewRepository(db),
		notifications.NewRepository(db),
		reconcile.Config{
			DueSoonWindow: cfg.Circulation.DueSoonWindow,
			PerDayRate:    cfg.Circulation.PenaltyPerDay,
			RetryAttempts: cfg.Reconciliation.RetryAttempts,
			RetryDelay:    cfg.Reconciliation.RetryDelay,
			MailBudget:    cfg.Mail.DeliveryBudget,
		},
	)
	engine.SetRunRecorder(runs.NewRepository(db))
	engine.SetMailer(mailer.New(cfg.Mail), users.NewRepository(db))
	if auditor != nil {
		engine.SetAuditLogger(auditor)
	}
	return engine
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting Librarian v%s", version)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatalf("Failed to get SQL DB: %v", err)
	}

	auditor := audit.NewService(auditrepo.NewRepository(db.DB))
	defer auditor.Flush()

	loanRepo := loans.NewRepository(db.DB)
	penaltyRepo := penalties.NewRepository(db.DB)
	runRepo := runs.NewRepository(db.DB)

	circulationService := circulation.NewService(loanRepo, circulation.Policy{LoanPeriod: cfg.Circulation.LoanPeriod})
	circulationService.SetAuditLogger(auditor)

	engine := NewReconcileEngine(cfg, db.DB, auditor)

	closeInterruptedRuns(context.Background(), runRepo, cfg.Reconciliation.StaleRunAfter)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var reconScheduler *scheduler.ReconciliationScheduler
	if cfg.Reconciliation.Enabled {
		reconScheduler = scheduler.NewReconciliationScheduler(engine, cfg.Reconciliation.Schedule, 0)
		if err := reconScheduler.Start(bgCtx); err != nil {
			log.Fatalf("Failed to start reconciliation scheduler: %v", err)
		}
		log.Printf("Reconciliation scheduled: %s", scheduler.GetCronDescription(cfg.Reconciliation.Schedule))
	} else {
		log.Printf("Reconciliation scheduler disabled (set RECONCILE_ENABLED=true to enable)")
	}

	var taskClient *tasks.Client
	if cfg.Tasks.Enabled {
		tasksBase := cfg.Database.Path
		if cfg.Database.Driver == config.DatabaseDriverPostgres || tasksBase == "" {
			tasksBase = config.DefaultDatabasePath
		}
		taskClient, err = tasks.NewClient(tasksBase, tasks.FromSettings(cfg.Tasks))
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(
			tasks.NewReconcileQueue(engine),
			tasks.NewCleanupAuditEventsQueue(auditor),
			tasks.NewCleanupRunsQueue(runRepo),
		)
		go taskClient.Start(bgCtx)
		go scheduleCleanups(bgCtx, taskClient, cfg)
	}

	authService := auth.NewService(db.DB, cfg.Auth)
	sessionManager, err := auth.NewSessionManager(sqlDB, cfg.Database.Driver, cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}
	authMiddleware := auth.NewMiddleware(authService, sessionManager, cfg.Auth)

	var csrfSecret []byte
	if cfg.Auth.Mode == config.AuthModeLocal {
		log.Printf("Authentication mode: local")
		csrfSecret = sessionSecret(cfg.Auth.SessionSecret)
	} else {
		log.Printf("Authentication mode: none (every request acts as %q)", auth.LocalUsername)
		localUser, err := authService.EnsureLocalUser(context.Background())
		if err != nil {
			log.Fatalf("Failed to create local user: %v", err)
		}
		authMiddleware.SetLocalUser(localUser)
	}

	routerCfg := http_controllers.RouterConfig{
		Circulation:    circulationService,
		Loans:          loanRepo,
		Books:          books.NewRepository(db.DB),
		Users:          users.NewRepository(db.DB),
		Penalties:      penaltyRepo,
		Notifications:  notifications.NewRepository(db.DB),
		Runs:           runRepo,
		PenaltyAuditor: auditor,
		AuditReader:    auditor,
		LoginAuditor:   auditor,
		AuthService:    authService,
		AuthMiddleware: authMiddleware,
		SessionManager: sessionManager,
		CSRFSecret:     csrfSecret,
		SecureCookies:  cfg.Auth.SecureCookies,
		Database:       sqlDB,
		Version:        version,
	}
	if reconScheduler != nil {
		routerCfg.Scheduler = reconScheduler
	}
	if taskClient != nil {
		routerCfg.TaskQueue = taskClient
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		if reconScheduler != nil {
			reconScheduler.Stop()
		}
		if taskClient != nil {
			taskClient.Stop(ctx)
		}
		bgCancel()
	}

	Serve(router, cfg, onShutdown)
}

// closeInterruptedRuns fails runs left "running" by a process that died
// mid-batch. Runs younger than staleAfter may belong to another live process
// sharing the database and are left alone.
func closeInterruptedRuns(ctx context.Context, runs tasks.RunHistoryCleaner, staleAfter time.Duration) int64 {
	n, err := runs.FailStaleRuns(ctx, staleAfter)
	if err != nil {
		log.Printf("WARNING: Failed to close interrupted reconciliation runs: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("Marked %d interrupted reconciliation runs as failed", n)
	}
	return n
}

// sessionSecret decodes a hex secret, falls back to the raw bytes, and
// generates a fresh one when none is configured.
func sessionSecret(configured string) []byte {
	if configured != "" {
		secret, err := hex.DecodeString(configured)
		if err != nil {
			return []byte(configured)
		}
		return secret
	}

	generated, err := auth.GenerateSessionSecret()
	if err != nil {
		log.Fatalf("Failed to generate CSRF secret: %v", err)
	}
	secret, _ := hex.DecodeString(generated)
	log.Printf("Generated session secret (set AUTH_SESSION_SECRET to persist)")
	return secret
}

// scheduleCleanups enqueues the audit and run-history cleanups once a day.
func scheduleCleanups(ctx context.Context, client *tasks.Client, cfg *config.Config) {
	enqueue := func() {
		if _, err := client.Enqueue(ctx, tasks.CleanupAuditEventsTask{RetentionDays: cfg.Audit.RetentionDays}); err != nil {
			log.Printf("Failed to enqueue audit cleanup: %v", err)
		}
		cleanup := tasks.CleanupRunsTask{
			Retention:  cfg.Reconciliation.RunRetention,
			StaleAfter: cfg.Reconciliation.StaleRunAfter,
		}
		if _, err := client.Enqueue(ctx, cleanup); err != nil {
			log.Printf("Failed to enqueue run history cleanup: %v", err)
		}
	}

	enqueue()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
