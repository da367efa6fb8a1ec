package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/aegs-platform/aegs-api/api/swagger"
	"github.com/aegs-platform/aegs-api/internal/handler"
	"github.com/aegs-platform/aegs-api/internal/mailer"
	"github.com/aegs-platform/aegs-api/internal/middleware"
	"github.com/aegs-platform/aegs-api/internal/models"
	"github.com/aegs-platform/aegs-api/internal/repository"
	"github.com/aegs-platform/aegs-api/internal/service"
	"github.com/aegs-platform/aegs-api/pkg/cache"
	"github.com/aegs-platform/aegs-api/pkg/config"
	"github.com/aegs-platform/aegs-api/pkg/database"
	"github.com/aegs-platform/aegs-api/pkg/export"
	"github.com/aegs-platform/aegs-api/pkg/logger"
	corsmiddleware "github.com/aegs-platform/aegs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aegs-platform/aegs-api/pkg/middleware/requestid"
	"github.com/aegs-platform/aegs-api/pkg/storage"
)

// @title AEGS API
// @version 1.0.0
// @description Academic event and certificate management service
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	cacheEnabled := true
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, event cache disabled", "error", err)
		cacheEnabled = false
	} else {
		defer redisClient.Close()
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Events.CacheTTL, logr, cacheEnabled)

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.Mailer.Enabled {
		mail = mailer.NewSMTPMailer(cfg.SMTP)
	}
	notifier := mailer.NewNotifier(mail, cfg.Mailer, logr)
	notifier.Start(context.Background())
	defer notifier.Stop()

	certStorage, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	validate := validator.New()

	auditSvc := service.NewAuditService(auditRepo, logr)
	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "aegs-api",
	})
	userSvc := service.NewUserService(userRepo, notifier, auditSvc, validate, logr)
	eventSvc := service.NewEventService(eventRepo, registrationRepo, cacheSvc, export.NewCSVExporter(), auditSvc, validate, logr, cfg.Events.CacheTTL)
	registrationSvc := service.NewRegistrationService(registrationRepo, eventRepo, userRepo, notifier, auditSvc, validate, logr)
	certificateSvc := service.NewCertificateService(certificateRepo, registrationRepo, eventRepo, notifier, auditSvc, export.NewPDFExporter(), certStorage, signer, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	eventHandler := handler.NewEventHandler(eventSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc, metrics)
	certificateHandler := handler.NewCertificateHandler(certificateSvc, metrics)
	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/signup", userHandler.Signup)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), userHandler.List)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleOrganizer), "SELF"), userHandler.Get)
		users.PUT("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	events := api.Group("/events")
	{
		events.GET("", middleware.OptionalJWT(authSvc), eventHandler.List)
		events.GET("/:id", middleware.OptionalJWT(authSvc), eventHandler.Get)
		events.POST("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), eventHandler.Create)
		events.PUT("/:id", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), eventHandler.Update)
		events.DELETE("/:id", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), eventHandler.Delete)
		events.GET("/:id/registrations/export", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), eventHandler.ExportRegistrations)
		events.PUT("/:id/attendance", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), registrationHandler.BulkAttendance)
	}

	registrations := api.Group("/registrations", middleware.JWT(authSvc))
	{
		registrations.GET("", registrationHandler.List)
		registrations.POST("", registrationHandler.Create)
		registrations.GET("/:id", registrationHandler.Get)
		registrations.PUT("/:id/status", registrationHandler.UpdateStatus)
		registrations.PUT("/:id/attendance", middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), registrationHandler.SetAttendance)
		registrations.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), registrationHandler.Delete)
	}

	certificates := api.Group("/certificates")
	{
		certificates.GET("/verify/:code", certificateHandler.Verify)
		certificates.GET("/download", certificateHandler.Download)
		certificates.GET("", middleware.JWT(authSvc), certificateHandler.List)
		certificates.POST("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), certificateHandler.Issue)
		certificates.POST("/auto-issue", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), certificateHandler.AutoIssue)
		certificates.GET("/:id", middleware.JWT(authSvc), certificateHandler.Get)
		certificates.POST("/:id/download-link", middleware.JWT(authSvc), certificateHandler.DownloadLink)
	}

	api.GET("/audit", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOrganizer, models.RoleAdmin), auditHandler.List)
	api.GET("/metrics/summary", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
