package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/amalcenter/scheduling-api/api/swagger"
	"github.com/amalcenter/scheduling-api/internal/handler"
	"github.com/amalcenter/scheduling-api/internal/middleware"
	"github.com/amalcenter/scheduling-api/internal/repository"
	"github.com/amalcenter/scheduling-api/internal/service"
	"github.com/amalcenter/scheduling-api/pkg/cache"
	"github.com/amalcenter/scheduling-api/pkg/config"
	"github.com/amalcenter/scheduling-api/pkg/database"
	"github.com/amalcenter/scheduling-api/pkg/logger"
	corsmiddleware "github.com/amalcenter/scheduling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/amalcenter/scheduling-api/pkg/middleware/requestid"
)

// @title Amal Center Scheduling API
// @version 1.0.0
// @description Automated scheduling engine for therapy session planning
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var locker service.TherapistLocker
	var cacheSvc *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, using in-process locks and no cache", "error", err)
		locker = service.NewLocalTherapistLocker()
		cacheSvc = service.NewCacheService(nil, metricsSvc, cfg.Cache.AvailabilityTTL, logr, false)
	} else {
		defer redisClient.Close()
		locker = service.NewRedisTherapistLocker(redisClient, cfg.Scheduler.LockTTL, logr)
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.AvailabilityTTL, logr, cfg.Cache.Enabled)
	}

	var notifier service.Notifier = service.NoopNotifier{}
	if cfg.Notifier.Enabled {
		queueNotifier := service.NewQueueNotifier(cfg.Notifier, logr)
		queueNotifier.Start(context.Background())
		defer queueNotifier.Stop()
		notifier = queueNotifier
	}

	windowRepo := repository.NewAvailabilityRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	exceptionRepo := repository.NewExceptionRepository(db)

	availabilitySvc := service.NewAvailabilityService(windowRepo, exceptionRepo, cacheSvc, nil, logr)
	conflictSvc := service.NewConflictService(windowRepo, exceptionRepo, sessionRepo, service.DefaultSeverityPolicy(), nil, logr)
	templateSvc := service.NewTemplateService(templateRepo, availabilitySvc, cfg.Scheduler.ApplyHorizonWeeks, nil, logr)
	generatorSvc := service.NewGeneratorService(db, sessionRepo, windowRepo, availabilitySvc, conflictSvc, locker, notifier, metricsSvc, cfg.Scheduler, nil, logr)
	optimizerSvc := service.NewOptimizerService(db, sessionRepo, conflictSvc, locker, notifier, metricsSvc, cfg.Scheduler, nil, logr)
	bulkSvc := service.NewBulkService(db, sessionRepo, conflictSvc, locker, notifier, metricsSvc, nil, logr)
	scheduleMetricsSvc := service.NewScheduleMetricsService(conflictSvc, windowRepo, logr)

	schedulingHandler := handler.NewSchedulingHandler(generatorSvc, optimizerSvc, conflictSvc, bulkSvc, scheduleMetricsSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	templateHandler := handler.NewTemplateHandler(templateSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/system", metricsHandler.System)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		schedule := api.Group("/schedule")
		{
			schedule.POST("/generate", schedulingHandler.Generate)
			schedule.POST("/preview", schedulingHandler.Preview)
			schedule.POST("/optimize", schedulingHandler.Optimize)
			schedule.POST("/conflicts/check", schedulingHandler.CheckConflicts)
			schedule.POST("/bulk", schedulingHandler.Bulk)
			schedule.POST("/bulk/:token/rollback", schedulingHandler.Rollback)
			schedule.GET("/metrics", schedulingHandler.Metrics)
		}

		availability := api.Group("/availability")
		{
			availability.GET("/windows", availabilityHandler.ListWindows)
			availability.POST("/windows", availabilityHandler.UpsertWindow)
			availability.PUT("/windows/:id", availabilityHandler.ReplaceWindow)
			availability.DELETE("/windows/:id", availabilityHandler.DeleteWindow)
			availability.GET("/resolve", availabilityHandler.Resolve)
			availability.GET("/exceptions", availabilityHandler.ListExceptions)
			availability.POST("/exceptions", availabilityHandler.CreateException)
			availability.DELETE("/exceptions/:id", availabilityHandler.DeleteException)
			availability.GET("/templates", templateHandler.List)
			availability.POST("/templates", templateHandler.Create)
			availability.POST("/templates/:id/apply", templateHandler.Apply)
			availability.DELETE("/templates/:id", templateHandler.Delete)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
