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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/elearning-api/api/swagger"
	"github.com/noah-isme/elearning-api/internal/handler"
	internalmiddleware "github.com/noah-isme/elearning-api/internal/middleware"
	"github.com/noah-isme/elearning-api/internal/repository"
	"github.com/noah-isme/elearning-api/internal/service"
	"github.com/noah-isme/elearning-api/migrations"
	"github.com/noah-isme/elearning-api/pkg/cache"
	"github.com/noah-isme/elearning-api/pkg/config"
	"github.com/noah-isme/elearning-api/pkg/database"
	"github.com/noah-isme/elearning-api/pkg/jobs"
	"github.com/noah-isme/elearning-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/elearning-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/elearning-api/pkg/middleware/requestid"
	"github.com/noah-isme/elearning-api/pkg/notify"
	"github.com/noah-isme/elearning-api/pkg/render"
	"github.com/noah-isme/elearning-api/pkg/storage"
)

// @title E-Learning API
// @version 1.0.0
// @description Course enrollment, progression tracking and certification.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		version, err := database.Migrate(context.Background(), db, migrations.FS, logr)
		if err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("schema up to date", zap.Int64("version", version))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Progress.CacheTTL, logr, cfg.Progress.CacheEnabled && redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	progressionRepo := repository.NewProgressionRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)

	sink, err := newSink(cfg.Notifications, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to configure notifications", zap.Error(err))
	}
	notificationSvc := service.NewNotificationService(sink, userRepo, metricsSvc, logr)
	notificationQueue := jobs.NewQueue("notifications", notificationSvc.Deliver, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: 2 * time.Second,
		DeadLetter: notificationSvc.DeadLetter,
		Logger:     logr,
	})
	notificationSvc.UseQueue(notificationQueue)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	notificationQueue.Start(rootCtx)

	documents, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare certificate storage", zap.Error(err))
	}
	signer := storage.NewDownloadSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	authSvc := service.NewAuthService(userRepo, logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	courseSvc := service.NewCourseService(courseRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, cacheSvc, notificationSvc, metricsSvc, validate, logr)
	certificateSvc := service.NewCertificateService(
		certificateRepo,
		courseRepo,
		userRepo,
		progressionRepo,
		render.NewPDFRenderer(cfg.Notifications.FromName),
		documents,
		signer,
		notificationSvc,
		metricsSvc,
		validate,
		logr,
		service.CertificateConfig{
			NumberPrefix:     cfg.Certificates.NumberPrefix,
			DownloadBasePath: cfg.APIPrefix + "/certificates/download",
			IssueTimeout:     cfg.Certificates.IssueTimeout,
		},
	)
	progressionSvc := service.NewProgressionService(progressionRepo, certificateSvc, cacheSvc, notificationSvc, metricsSvc, validate, logr, service.ProgressionConfig{
		IssueTimeout: cfg.Certificates.IssueTimeout,
		CacheTTL:     cfg.Progress.CacheTTL,
	})

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	registerRoutes(r, cfg, authSvc, routeHandlers{
		courses:      handler.NewCourseHandler(courseSvc),
		enrollments:  handler.NewEnrollmentHandler(enrollmentSvc),
		progressions: handler.NewProgressionHandler(progressionSvc),
		certificates: handler.NewCertificateHandler(certificateSvc),
		metrics:      handler.NewMetricsHandler(metricsSvc, checks),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "notify_driver", sink.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	notificationQueue.Stop()
}

func newSink(cfg config.NotificationsConfig, client *redis.Client, logr *zap.Logger) (notify.Sink, error) {
	switch cfg.Driver {
	case "", config.NotifyDriverLog:
		return notify.NewLogSink(logr), nil
	case config.NotifyDriverRedis:
		if client == nil {
			logr.Warn("redis notification driver selected without redis, falling back to log sink")
			return notify.NewLogSink(logr), nil
		}
		return notify.NewRedisSink(client, cfg.Channel), nil
	case config.NotifyDriverSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, errors.New("SENDGRID_API_KEY is required for the sendgrid driver")
		}
		return notify.NewSendGridSink(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}
