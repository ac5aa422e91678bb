package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hospital-admin-api/api/swagger"
	"github.com/noah-isme/hospital-admin-api/internal/handler"
	internalmiddleware "github.com/noah-isme/hospital-admin-api/internal/middleware"
	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/repository"
	"github.com/noah-isme/hospital-admin-api/internal/service"
	"github.com/noah-isme/hospital-admin-api/internal/workflow"
	"github.com/noah-isme/hospital-admin-api/pkg/cache"
	"github.com/noah-isme/hospital-admin-api/pkg/config"
	"github.com/noah-isme/hospital-admin-api/pkg/database"
	"github.com/noah-isme/hospital-admin-api/pkg/export"
	"github.com/noah-isme/hospital-admin-api/pkg/jobs"
	"github.com/noah-isme/hospital-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hospital-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hospital-admin-api/pkg/middleware/requestid"
)

// @title Hospital Admin API
// @version 1.0.0
// @description Sequential approval workflows for leave, internal documents and staff changes
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database unavailable", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, continuing without cache and distributed locks", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()
	app := buildApp(cfg, db, redisClient, metrics, logr)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if app.asyncHistory != nil {
		app.asyncHistory.Start(ctx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", readiness(db, redisClient))
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(app.tokens))
	registerApprovalRoutes(api, app, logr)

	ops := api.Group("/ops")
	ops.Use(internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	ops.GET("/metrics", metricsHandler.Summary)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	// Pending history writes are flushed after the last request finished.
	if app.asyncHistory != nil {
		app.asyncHistory.Stop()
	}
	stop()
	logr.Info("server exited")
}

type application struct {
	approvals    *service.ApprovalService
	tokens       *service.TokenService
	audit        *repository.AuditRepository
	asyncHistory *service.AsyncHistorySink
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, metrics *service.MetricsService, logr *zap.Logger) *application {
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metrics,
		cfg.Directory.CacheTTL,
		logr,
		redisClient != nil && cfg.Directory.CacheEnabled,
	)
	directory := service.NewCachedDirectory(repository.NewStaffDirectoryRepository(db), cacheSvc, cfg.Directory.CacheTTL, logr)

	approvalRepo := repository.NewApprovalRepository(db)
	historyRepo := repository.NewApprovalHistoryRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	sinks := []workflow.HistorySink{historyRepo}
	if cfg.Approvals.AuditMirror {
		sinks = append(sinks, service.NewAuditHistorySink(auditRepo))
	}
	var sink workflow.HistorySink = service.NewFanOutHistorySink(sinks...)

	app := &application{audit: auditRepo}
	if cfg.Approvals.HistoryAsync {
		app.asyncHistory = service.NewAsyncHistorySink(sink, jobs.QueueConfig{
			Workers:    cfg.Approvals.HistoryWorkers,
			MaxRetries: cfg.Approvals.HistoryRetries,
			RetryDelay: 200 * time.Millisecond,
			Logger:     logr,
		}, metrics)
		sink = app.asyncHistory
	}

	var locker workflow.Locker = workflow.NewKeyedLocker(cfg.Approvals.LockTimeout)
	if cfg.Approvals.DistributedLock {
		if redisClient != nil {
			locker = repository.NewRedisLocker(redisClient, cfg.Approvals.LockTTL, cfg.Approvals.LockTimeout)
		} else {
			logr.Warn("distributed approval lock requested without redis, using in-process lock")
		}
	}

	registry := workflow.DefaultRegistry(validator.New(), map[models.WorkflowType]bool{
		models.WorkflowLeave:       cfg.Approvals.LeaveSequential,
		models.WorkflowDocument:    cfg.Approvals.DocSequential,
		models.WorkflowStaffChange: cfg.Approvals.StaffSequential,
	})
	if err := registry.OnApproved(models.WorkflowStaffChange, workflow.InvalidateChangedStaff(directory)); err != nil {
		logr.Sugar().Fatalw("register staff change applier", "error", err)
	}

	engine := workflow.NewEngine(approvalRepo, directory, sink, logr,
		workflow.WithLocker(locker),
		workflow.WithRegistry(registry),
		workflow.WithObserver(metrics),
		workflow.WithHistoryReader(historyRepo),
	)

	app.approvals = service.NewApprovalService(engine, export.NewPDFExporter(), export.NewCSVExporter(), cfg.Approvals.SheetTitle, logr)
	app.tokens = service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	return app
}

func readiness(db *sqlx.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "database"})
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "redis"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
