package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ksred/derivatives-api/internal/auth"
	"github.com/ksred/derivatives-api/internal/config"
	"github.com/ksred/derivatives-api/internal/contracts"
	"github.com/ksred/derivatives-api/internal/database"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/margin"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/internal/settlement"
	"github.com/ksred/derivatives-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// setupLogging configures zerolog output and level from config. Development
// runs get pretty console output alongside the rotating file; production logs
// to the file only.
func setupLogging(cfg *config.Config) {
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   true,
	}

	var writer io.Writer = fileWriter
	if os.Getenv("ENV") != "production" {
		console := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.MultiLevelWriter(console, fileWriter)
	}

	zlog.Logger = zerolog.New(writer).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the margin and settlement API server with
// graceful shutdown support
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Event bus with a logging subscriber standing in for downstream
	// notification consumers
	bus := events.NewBus(256)
	bus.Subscribe(events.LoggingHandler())
	defer bus.Close()

	regionProvider := regions.NewStaticProvider()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	contractService := contracts.NewService(db)
	contractHandlers := contracts.NewGinHandlers(contractService)

	calculator := margin.NewCalculator(db, regionProvider, margin.NewStaticCorrelationProvider())
	monitor := margin.NewMonitor(db, calculator, regionProvider, bus, cfg.MarginSweepInterval())
	marginHandlers := margin.NewGinHandlers(calculator, monitor)

	engine := settlement.NewEngine(db, regionProvider, bus)
	settlementService := settlement.NewService(db, engine, regionProvider, bus)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	scheduler := settlement.NewScheduler(db, engine, bus,
		cfg.SettlementSweepInterval(), cfg.SettlementOverdueAfter())

	// Start background sweeps
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go monitor.Start(sweepCtx)
	go scheduler.Start(sweepCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, contractHandlers, marginHandlers, settlementHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Contract, margin and settlement routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	contractHandlers *contracts.GinHandlers,
	marginHandlers *margin.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Contract routes
		contractGroup := v1.Group("/contracts")
		contractGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			contractGroup.POST("", contractHandlers.RegisterContractHandler())
			contractGroup.GET("", contractHandlers.GetClientContractsHandler())
			contractGroup.GET("/:contract_id", contractHandlers.GetContractHandler())
		}

		// Margin routes
		marginGroup := v1.Group("/margin")
		marginGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			marginGroup.POST("/portfolio", marginHandlers.CalculatePortfolioMarginHandler())
			marginGroup.GET("/portfolio", marginHandlers.GetPortfolioMarginHandler())
			marginGroup.GET("/requirements/:contract_id", marginHandlers.GetRequirementHandler())
			marginGroup.POST("/collateral", marginHandlers.UpdateCollateralHandler())
			marginGroup.GET("/collateral", marginHandlers.GetCollateralHandler())
			marginGroup.GET("/calls", marginHandlers.GetMarginCallsHandler())
		}

		// Settlement routes
		settlementGroup := v1.Group("/settlements")
		settlementGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			settlementGroup.POST("", settlementHandlers.CreateInstructionHandler())
			settlementGroup.GET("", settlementHandlers.GetClientInstructionsHandler())
			settlementGroup.GET("/history", settlementHandlers.GetClientHistoryHandler())
			settlementGroup.GET("/:instruction_id", settlementHandlers.GetInstructionHandler())
			settlementGroup.POST("/:instruction_id/cancel", settlementHandlers.CancelInstructionHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/margin/calculate/:contract_id", marginHandlers.CalculateMarginHandler())
			internal.POST("/margin/check", marginHandlers.CheckMarginHandler())
			internal.POST("/margin/calls/:margin_call_id/resolve", marginHandlers.ResolveMarginCallHandler())
			internal.POST("/margin/variation/:contract_id", marginHandlers.UpdateVariationMarginHandler())
			internal.POST("/settlement/execute/:instruction_id", settlementHandlers.ExecuteInstructionHandler())
		}
	}
}
