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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/xray-triage-api/api/swagger"
	"github.com/noah-isme/xray-triage-api/internal/handler"
	"github.com/noah-isme/xray-triage-api/internal/ingest"
	internalmiddleware "github.com/noah-isme/xray-triage-api/internal/middleware"
	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/internal/repository"
	"github.com/noah-isme/xray-triage-api/internal/service"
	"github.com/noah-isme/xray-triage-api/pkg/cache"
	"github.com/noah-isme/xray-triage-api/pkg/config"
	"github.com/noah-isme/xray-triage-api/pkg/database"
	"github.com/noah-isme/xray-triage-api/pkg/jobs"
	"github.com/noah-isme/xray-triage-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/xray-triage-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/xray-triage-api/pkg/middleware/requestid"
)

// @title X-ray Triage API
// @version 1.0.0
// @description Prioritised radiology worklist and live case statistics.
// @BasePath /api/v1
// @schemes http

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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	caseRepo := repository.NewCaseRepository(db, metricsSvc)
	patientRepo := repository.NewPatientRepository(db, metricsSvc)
	schemaCtx, cancelSchema := context.WithTimeout(ctx, 10*time.Second)
	err = caseRepo.EnsureSchema(schemaCtx)
	if err == nil {
		err = patientRepo.EnsureSchema(schemaCtx)
	}
	cancelSchema()
	if err != nil {
		return err
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var (
		cacheRepo   service.CacheRepository
		redisPinger handler.Pinger
	)
	if redisClient != nil {
		defer redisClient.Close()
		repo := repository.NewCacheRepository(redisClient, "xray-triage")
		cacheRepo = repo
		redisPinger = repo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Stats.CacheTTL, logr, cfg.Stats.CacheEnabled)

	extractor := service.NewSeverityExtractor(logr.Named("severity"), metricsSvc)
	worklistSvc := service.NewWorklistService(service.WorklistServiceParams{
		Store:     caseRepo,
		Extractor: extractor,
		Metrics:   metricsSvc,
		Logger:    logr.Named("worklist"),
		Config:    service.WorklistServiceConfig{DefaultLimit: cfg.Worklist.DefaultLimit, MaxLimit: cfg.Worklist.MaxLimit},
	})
	statsSvc := service.NewStatsService(service.StatsServiceParams{
		Store:     caseRepo,
		Extractor: extractor,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Logger:    logr.Named("stats"),
		Config:    service.StatsServiceConfig{RecentWindow: cfg.Stats.RecentWindow, CacheTTL: cfg.Stats.CacheTTL},
	})
	reviewSvc := service.NewReviewService(caseRepo, statsSvc, logr.Named("review"))
	caseSvc := service.NewCaseService(caseRepo, extractor, logr.Named("cases"))
	patientSvc := service.NewPatientService(patientRepo, caseSvc, validator.New(), logr.Named("patients"))
	exportSvc := service.NewExportService(worklistSvc, logr.Named("export"), nil, nil)
	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})

	hub := service.NewStatsHub(statsSvc, metricsSvc, logr.Named("hub"), service.StatsHubConfig{
		Interval:     cfg.Broadcast.Interval,
		WriteTimeout: cfg.Broadcast.WriteTimeout,
	})
	hub.Start(ctx)
	defer hub.Stop()

	if cfg.Ingest.Enabled {
		stopIngest, err := startIngest(ctx, cfg, caseRepo, statsSvc, metricsSvc, logr.Named("ingest"))
		if err != nil {
			return err
		}
		defer stopIngest()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	policy := corsmiddleware.NewPolicy(cfg.CORS.AllowedOrigins)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": caseRepo,
		"redis":    redisPinger,
	})
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if metricsSvc != nil {
		r.GET("/metrics", handler.NewMetricsHandler(metricsSvc).Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	worklistHandler := handler.NewWorklistHandler(worklistSvc, exportSvc)
	caseHandler := handler.NewCaseHandler(caseSvc, reviewSvc)
	patientHandler := handler.NewPatientHandler(patientSvc)
	statsHandler := handler.NewStatsHandler(statsSvc)
	streamHandler := handler.NewStreamHandler(hub, policy, logr.Named("stream"))

	api := r.Group(cfg.APIPrefix)
	privileged := []gin.HandlerFunc{}
	if cfg.JWT.Required {
		api.Use(internalmiddleware.JWT(authSvc))
		privileged = append(privileged, internalmiddleware.RequireRoles(models.RoleRadiologist, models.RoleAdmin))
	} else {
		api.Use(internalmiddleware.OptionalJWT(authSvc))
	}

	api.GET("/worklist", worklistHandler.List)
	api.GET("/worklist/export", append(privileged, worklistHandler.Export)...)
	api.GET("/stats", statsHandler.Get)
	api.GET("/stats/stream", streamHandler.Stream)
	api.GET("/cases", caseHandler.List)
	api.GET("/cases/high-risk", caseHandler.HighRisk)
	api.GET("/cases/:id", caseHandler.Get)
	reviewChain := append(append([]gin.HandlerFunc{}, privileged...), internalmiddleware.Audit(logr, "case.review"), caseHandler.Review)
	api.PATCH("/cases/:id/review", reviewChain...)
	api.GET("/patients", patientHandler.List)
	api.POST("/patients", append(append([]gin.HandlerFunc{}, privileged...), patientHandler.Create)...)
	api.GET("/patients/:patientId", patientHandler.Get)
	deletePatientChain := append(append([]gin.HandlerFunc{}, privileged...), internalmiddleware.Audit(logr, "patient.delete"), patientHandler.Delete)
	api.DELETE("/patients/:patientId", deletePatientChain...)
	api.GET("/patients/:patientId/cases", caseHandler.ByPatient)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked stream connections are not tracked by Shutdown; the deferred hub.Stop
	// closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// startIngest wires the Kafka consumer to the worker queue and returns a stop
// function that drains both.
func startIngest(ctx context.Context, cfg *config.Config, store *repository.CaseRepository, stats *service.StatsService, metrics *service.MetricsService, logr *zap.Logger) (func(), error) {
	ingestSvc := service.NewIngestService(store, stats, validator.New(), metrics, logr)

	queue := jobs.NewQueue("ingest", ingestSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Ingest.Workers,
		BufferSize: cfg.Ingest.BatchSize * 2,
		MaxRetries: cfg.Ingest.MaxRetries,
		Logger:     logr,
		OnComplete: func(job jobs.Job, err error) {
			if err != nil {
				logr.Error("result dropped", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			}
		},
	})

	consumer, err := ingest.NewKafkaConsumer(ingest.ConsumerConfig{
		Brokers:   cfg.Ingest.Brokers,
		GroupID:   cfg.Ingest.GroupID,
		Topic:     cfg.Ingest.Topic,
		JobType:   service.IngestJobType,
		BatchSize: cfg.Ingest.BatchSize,
	}, queue, logr)
	if err != nil {
		return nil, fmt.Errorf("init result consumer: %w", err)
	}

	queue.Start(ctx)
	consumerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Run(consumerCtx)
	}()

	return func() {
		cancel()
		<-done
		if err := consumer.Close(); err != nil {
			logr.Warn("result consumer close failed", zap.Error(err))
		}
		queue.Stop()
	}, nil
}
