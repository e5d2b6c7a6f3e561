package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/siga-edu/siga-api/api/swagger"
	"github.com/siga-edu/siga-api/internal/handler"
	"github.com/siga-edu/siga-api/internal/middleware"
	"github.com/siga-edu/siga-api/internal/models"
	"github.com/siga-edu/siga-api/internal/repository"
	"github.com/siga-edu/siga-api/internal/service"
	rediscache "github.com/siga-edu/siga-api/pkg/cache"
	"github.com/siga-edu/siga-api/pkg/config"
	"github.com/siga-edu/siga-api/pkg/database"
	"github.com/siga-edu/siga-api/pkg/jobs"
	"github.com/siga-edu/siga-api/pkg/logger"
	corsmiddleware "github.com/siga-edu/siga-api/pkg/middleware/cors"
	reqidmiddleware "github.com/siga-edu/siga-api/pkg/middleware/requestid"
	"github.com/siga-edu/siga-api/pkg/storage"
)

// @title SIGA API
// @version 1.0.0
// @description Academic administration API: enrollment lifecycle, reenrollment processing, contracts.
// @BasePath /api/v1
// @schemes http
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	redisClient, err := rediscache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Reenrollments.SummaryCacheTTL, logr, true)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	reenrollmentRepo := repository.NewReenrollmentRepository(db)
	contractRepo := repository.NewContractRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "siga-api",
	})
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, userRepo, validate, logr)
	reenrollmentSvc := service.NewReenrollmentService(
		reenrollmentRepo, enrollmentRepo, studentRepo, contractRepo, userRepo, userRepo,
		cacheSvc, cfg.Reenrollments.SummaryCacheTTL, validate, logr)
	contractSvc := service.NewContractService(contractRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	reenrollmentHandler := handler.NewReenrollmentHandler(reenrollmentSvc)
	contractHandler := handler.NewContractHandler(contractSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
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

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", authHandler.Logout)
		authed.POST("/auth/change-password", authHandler.ChangePassword)
		authed.GET("/auth/me", authHandler.Me)

		staff := middleware.RequireRoles(models.RoleAdmin, models.RoleSecretary)
		adminOnly := middleware.RequireRoles(models.RoleAdmin)
		studentOnly := middleware.RequireRoles(models.RoleStudent)

		students := authed.Group("/students", staff)
		{
			students.GET("", studentHandler.List)
			students.GET("/:id", studentHandler.Get)
			students.POST("", studentHandler.Create)
			students.PUT("/:id", studentHandler.Update)
			students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Delete)
		}

		courses := authed.Group("/courses")
		{
			courses.GET("", courseHandler.List)
			courses.GET("/:id", courseHandler.Get)
			courses.POST("", staff, courseHandler.Create)
			courses.PUT("/:id", staff, courseHandler.Update)
			courses.DELETE("/:id", adminOnly, courseHandler.Delete)
		}

		enrollments := authed.Group("/enrollments")
		{
			enrollments.GET("/mine", studentOnly, enrollmentHandler.Mine)
			enrollments.GET("", staff, enrollmentHandler.List)
			enrollments.GET("/:id", enrollmentHandler.Get)
			enrollments.POST("", staff, enrollmentHandler.Create)
			enrollments.PUT("/:id", staff, enrollmentHandler.Update)
			enrollments.PUT("/:id/status", staff, enrollmentHandler.ChangeStatus)
			enrollments.DELETE("/:id", adminOnly, enrollmentHandler.Delete)
		}

		selfOrStaff := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSecretary)
		reenrollments := authed.Group("/reenrollments")
		{
			reenrollments.POST("/process-all", adminOnly, reenrollmentHandler.ProcessAll)
			reenrollments.GET("/contract-preview/:id", selfOrStaff, reenrollmentHandler.Preview)
			reenrollments.POST("/accept/:id", selfOrStaff, reenrollmentHandler.Accept)
			reenrollments.GET("/summary", staff, reenrollmentHandler.Summary)
		}

		contracts := authed.Group("/contracts")
		{
			contracts.GET("/mine", contractHandler.Mine)
			contracts.GET("", staff, contractHandler.List)
			contracts.GET("/:id", contractHandler.Get)
		}

		authed.GET("/metrics/system", adminOnly, metricsHandler.System)

		templates := authed.Group("/contract-templates", adminOnly)
		{
			templates.GET("", contractHandler.ListTemplates)
			templates.POST("", middleware.Audit(userRepo, models.AuditActionContractCreate, "contract_templates"), contractHandler.CreateTemplate)
		}

		if cfg.Reports.Enabled {
			store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
			if err != nil {
				logr.Sugar().Fatalw("failed to init report storage", "error", err)
			}
			signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
			exportSvc := service.NewExportService(enrollmentRepo, reenrollmentRepo, store, signer, service.ExportConfig{
				APIPrefix: cfg.APIPrefix,
				ResultTTL: cfg.Reports.SignedURLTTL,
			}, logr, nil, nil)

			reportRepo := repository.NewReportRepository(db)
			worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
			queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
				Workers:    cfg.Reports.WorkerConcurrency,
				MaxRetries: cfg.Reports.WorkerRetries,
				Logger:     logr,
			})
			queue.Start(ctx)

			reportSvc := service.NewReportService(reportRepo, queue, exportSvc, logr, service.ReportServiceConfig{
				ResultTTL:       cfg.Reports.SignedURLTTL,
				CleanupInterval: cfg.Reports.CleanupInterval,
				MaxRetries:      cfg.Reports.WorkerRetries,
			})
			reportSvc.RecoverPendingJobs(ctx)
			reportSvc.StartCleanup(ctx)

			reportHandler := handler.NewReportHandler(reportSvc, logr)
			reports := authed.Group("/reports", staff)
			{
				reports.POST("", reportHandler.GenerateReport)
				reports.GET("/:id", reportHandler.ReportStatus)
			}
			api.GET("/export/:token", reportHandler.DownloadReport)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		logr.Sugar().Infow("shutting down")
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
