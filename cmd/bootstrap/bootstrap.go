package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-clinic-queue/config"
	deliveryHttp "go-clinic-queue/internal/delivery/http"
	"go-clinic-queue/internal/delivery/http/handler"
	"go-clinic-queue/internal/delivery/http/middleware"
	"go-clinic-queue/internal/infrastructure/cache"
	"go-clinic-queue/internal/infrastructure/database"
	"go-clinic-queue/internal/repository"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/jwt"
	"go-clinic-queue/pkg/metrics"
	"go-clinic-queue/pkg/validator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App holds all dependencies for the application
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisClient *redis.Client
	Server      *http.Server

	queueState   *service.QueueStateService
	breakService *service.BreakService
}

// New creates a new App instance with all dependencies initialized
func New() (*App, error) {
	app := &App{}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	// Setup logger
	setupLogger(cfg.App)
	logrus.Info("Configuration loaded successfully")

	location, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}

	// Apply migrations before gorm opens its pool
	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB); err != nil {
			return nil, err
		}
	}

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.DB, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = db
	logrus.Info("Database connected successfully")

	// Initialize Redis
	redisClient, err := cache.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.RedisClient = redisClient
	logrus.Info("Redis connected successfully")

	// Initialize all layers
	app.initializeServer(cfg, location, db, redisClient)

	return app, nil
}

// setupLogger configures the logrus logger
func setupLogger(cfg config.AppConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// initializeServer creates the services, use cases and HTTP server
func (app *App) initializeServer(cfg *config.Config, location *time.Location, db *gorm.DB, redisClient *redis.Client) {
	log := logrus.StandardLogger()
	clk := clock.Real()
	m := metrics.New(prometheus.DefaultRegisterer, "clinic")
	gate := scheduling.NewGate(cfg.Booking.LeadTime, location)

	// Initialize JWT service
	jwtService := jwt.NewJWTService(cfg.JWT)

	// Initialize validator
	customValidator := validator.NewValidator()

	// Initialize repositories
	userRepo := repository.NewUserRepository()
	doctorRepo := repository.NewDoctorProfileRepository()
	patientRepo := repository.NewPatientProfileRepository()
	appointmentRepo := repository.NewAppointmentRepository()
	overrideRepo := repository.NewScheduleOverrideRepository()
	assignmentRepo := repository.NewAssistantAssignmentRepository()
	auditLogRepo := repository.NewAuditLogRepository()

	// Initialize services
	auditService := service.NewAuditService(db, log, auditLogRepo)
	broker := service.NewQueueEventBroker(redisClient, log)
	app.queueState = service.NewQueueStateService(redisClient, clk, location, cfg.Booking.SessionLockExpiry, log)
	app.breakService = service.NewBreakService(redisClient, broker, clk, m, cfg.Queue.BreakCheckInterval, log)
	app.breakService.Run()

	// Initialize usecases
	authUsecase := usecase.NewAuthUsecase(db, log, userRepo, patientRepo, assignmentRepo, jwtService, redisClient, auditService)
	bookingUsecase := usecase.NewBookingUsecase(db, log, clk, gate, cfg.Booking.MaxFamilyMembers,
		appointmentRepo, doctorRepo, patientRepo, overrideRepo, app.queueState, broker, auditService, m)
	queueUsecase := usecase.NewQueueUsecase(db, log, clk, location, cfg.Queue.WriteConcurrency,
		appointmentRepo, assignmentRepo, app.queueState, app.breakService, broker, auditService, m)
	doctorUsecase := usecase.NewDoctorUsecase(db, log, clk, gate, doctorRepo, appointmentRepo, overrideRepo, assignmentRepo, app.breakService, auditService)
	overrideUsecase := usecase.NewScheduleOverrideUsecase(db, log, overrideRepo, doctorRepo, auditService)
	auditLogUsecase := usecase.NewAuditLogUsecase(db, log, auditLogRepo)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authUsecase, customValidator)
	doctorHandler := handler.NewDoctorHandler(doctorUsecase, customValidator)
	bookingHandler := handler.NewBookingHandler(bookingUsecase, customValidator)
	queueHandler := handler.NewQueueHandler(queueUsecase, customValidator)
	queueStreamHandler := handler.NewQueueStreamHandler(queueUsecase, broker, clk, m, handler.QueueStreamConfig{
		RefreshInterval: cfg.Queue.RefreshInterval,
		ReorderCooldown: cfg.Queue.ReorderCooldown,
	}, cfg.App.AllowedOrigin, log)
	overrideHandler := handler.NewScheduleOverrideHandler(overrideUsecase, customValidator)
	auditLogHandler := handler.NewAuditLogHandler(auditLogUsecase, customValidator)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtService, redisClient)
	corsMiddleware := middleware.NewCORSMiddleware(cfg.App.AllowedOrigin)
	bookingLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.RateLimit.RPS),
		Burst: cfg.RateLimit.Burst,
	})

	// Initialize router
	router := deliveryHttp.NewRouter(
		authHandler,
		doctorHandler,
		bookingHandler,
		queueHandler,
		queueStreamHandler,
		overrideHandler,
		auditLogHandler,
		authMiddleware,
		corsMiddleware,
		bookingLimiter,
	)
	httpRouter := router.Setup()

	// Create server. No write timeout: queue streams are long-lived.
	serverAddr := fmt.Sprintf(":%s", cfg.App.Port)
	app.Server = &http.Server{
		Addr:              serverAddr,
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run starts the HTTP server and handles graceful shutdown
func (app *App) Run() {
	// Start server in goroutine
	go func() {
		logrus.Infof("Server starting on port %s", app.Config.App.Port)
		logrus.Infof("Environment: %s", app.Config.App.Env)
		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	app.waitForShutdown()
}

// waitForShutdown blocks until an interrupt signal is received
func (app *App) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server gracefully
	if err := app.Server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// Close connections
	app.Close()

	logrus.Info("Server shutdown complete")
}

// Close stops background workers, then closes database and Redis connections
func (app *App) Close() {
	if app.breakService != nil {
		app.breakService.Stop()
	}
	if app.queueState != nil {
		app.queueState.Stop()
	}

	// Close database connection
	if app.DB != nil {
		sqlDB, err := app.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}

	// Close Redis connection
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
