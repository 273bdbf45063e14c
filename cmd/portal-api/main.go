package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"garage-portal/portal-backend/internal/auth"
	"garage-portal/portal-backend/internal/config"
	"garage-portal/portal-backend/internal/maintenance"
	"garage-portal/portal-backend/internal/notifications"
	"garage-portal/portal-backend/internal/notifications/websocket"
	"garage-portal/portal-backend/internal/onboarding"
	"garage-portal/portal-backend/internal/provisioning"
	"garage-portal/portal-backend/internal/settings"
	"garage-portal/portal-backend/internal/sms"
	"garage-portal/portal-backend/internal/tenants"
	"garage-portal/portal-backend/pkg/platform"
	"garage-portal/portal-backend/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	envPath := flag.String("env", config.EnvFileName, "path to the .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		panic(err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Database
	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db", cfg.Database.DBName))
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	gormDB, err := tenants.Open(db.DB)
	if err != nil {
		logger.Fatal("Failed to open tenant store", zap.Error(err))
	}
	tenantStore := tenants.NewStore(gormDB, logger)

	// Hosted platform: identities and provisioning functions
	httpClient := platform.NewClient(platform.Options{
		Timeout:  cfg.Platform.RequestTimeout,
		RetryMax: cfg.Platform.RetryMax,
	}, logger)
	identity := auth.NewPlatformIdentity(httpClient, cfg.Platform.URL, cfg.Platform.AnonKey, logger)
	invoker := provisioning.NewClient(httpClient, cfg.Platform.URL, cfg.Platform.ServiceKey, logger)
	verifier := auth.NewTokenVerifier(cfg.Platform.JWTSecret)

	// AWS: SMS, email, avatars
	awsCfg, err := cfg.AWS.LoadAWS(context.Background())
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	smsService := sms.NewService(
		sms.NewRepository(db),
		sms.NewSNSSender(sns.NewFromConfig(awsCfg), cfg.SMS.SenderID),
		logger,
		sms.Config{
			CodeTTL:     cfg.SMS.CodeTTL,
			MaxAttempts: cfg.SMS.MaxAttempts,
			MaxSends:    cfg.SMS.MaxSends,
			SendWindow:  cfg.SMS.SendWindow,
			CountryCode: cfg.SMS.CountryCode,
		},
	)

	var mailer notifications.Mailer
	if cfg.AWS.EmailFrom != "" {
		mailer = notifications.NewSESMailer(sesv2.NewFromConfig(awsCfg), cfg.AWS.EmailFrom)
	} else {
		logger.Warn("EMAIL_FROM not set, completion emails are disabled")
	}

	var avatars storage.S3Client
	if cfg.AWS.AvatarBucket != "" {
		avatars = storage.NewS3Client(awsCfg)
	} else {
		logger.Warn("AVATAR_BUCKET not set, avatar uploads are disabled")
	}

	// Live updates
	sockets := websocket.NewManager(cfg.Server.AllowedOrigins, logger)
	defer sockets.Close()
	notifier := notifications.NewService(sockets, mailer, logger)

	// Domain services
	onboardingService := onboarding.NewService(
		onboarding.NewRepository(db),
		tenantStore,
		identity,
		invoker,
		tenantStore,
		smsService,
		notifier,
		logger,
		onboarding.ServiceConfig{
			InstallationID: cfg.Onboarding.InstallationID,
			SessionTTL:     cfg.Onboarding.SessionTTL,
			Engine: onboarding.EngineConfig{
				VerifyDelay:    cfg.Onboarding.VerifyDelay,
				VerifyAttempts: cfg.Onboarding.VerifyAttempts,
				VerifyBackoff:  cfg.Onboarding.VerifyBackoff,
			},
		},
	)
	onboardingHandler := onboarding.NewHandler(onboardingService, sockets, logger)

	authHandler := auth.NewHandler(auth.NewService(identity, logger))

	settingsService := settings.NewService(settings.NewRepository(db), avatars, cfg.AWS.AvatarBucket, logger)
	settingsHandler := settings.NewHandler(settingsService, logger)

	// Housekeeping
	scheduler := maintenance.NewScheduler(logger)
	if !cfg.Maintenance.DisableSchedule {
		jobs := []maintenance.Job{
			maintenance.PurgeSMSCodes(smsService, cfg.Maintenance.PurgeSMSCodes, logger),
			maintenance.EvictSessions(onboardingService, cfg.Maintenance.EvictSessions, logger),
		}
		for _, job := range jobs {
			if err := scheduler.Add(job); err != nil {
				logger.Fatal("Failed to schedule maintenance job", zap.String("job", job.Name), zap.Error(err))
			}
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Server.AllowedOrigins))

	optionalAuth := auth.Middleware(verifier, false)
	requireAuth := auth.Middleware(verifier, true)

	api := router.Group("/api/v1")
	{
		auth.RegisterRoutes(api, authHandler, requireAuth)
		onboardingHandler.RegisterRoutes(api, optionalAuth, requireAuth)
		settingsHandler.RegisterRoutes(api, requireAuth)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		code, status, dbStatus := http.StatusOK, "healthy", "up"
		if err := db.PingContext(c.Request.Context()); err != nil {
			code, status, dbStatus = http.StatusServiceUnavailable, "degraded", "down"
		}
		c.JSON(code, gin.H{
			"status":      status,
			"database":    dbStatus,
			"connections": sockets.GetConnectionCount(),
			"jobs":        scheduler.Status(),
			"timestamp":   time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func cors(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				if origin == "" {
					origin = "*"
				}
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
