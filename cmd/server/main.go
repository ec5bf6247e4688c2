package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/go-playground/validator/v10"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"recovery/internal/app"
	"recovery/internal/auth"
	"recovery/internal/config"
	"recovery/internal/handler"
	"recovery/internal/middleware"
	"recovery/internal/realtime"
	internalRedis "recovery/internal/redis"
	"recovery/internal/repository/postgres"
	"recovery/internal/service"
	"recovery/internal/transport/websocket"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
}

var cmdArgs cliArgs

var logTags = log.Fields{"module": "main", "component": "main"}

func main() {
	cliApp := &cli.App{
		Name:        "recovery-dispatch",
		Usage:       "real-time recovery dispatch server",
		Description: "Matches recovery requests to drivers and runs each booking over WebSocket sessions",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				Destination: &cmdArgs.JSONLog,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "info",
				Destination: &cmdArgs.LogLevel,
			},
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Defaults and environment only if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Destination: &cmdArgs.ConfigFile,
			},
		},
		Action: runServer,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging installs the log handler and level chosen on the command line.
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}
	level, err := log.ParseLevel(cmdArgs.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func runServer(_ *cli.Context) error {
	if err := validator.New().Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}
	setupLogging()

	cfg, err := config.Load(cmdArgs.ConfigFile)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to load config")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic comes first so the database and Redis clients are instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Warn("Failed to initialize New Relic")
		} else {
			log.WithFields(logTags).WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to connect to database")
		return err
	}
	defer db.Close()
	log.WithFields(logTags).Info("Connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to connect to redis")
		return err
	}
	defer redisClient.Close()
	log.WithFields(logTags).Info("Connected to Redis")

	srv := wireServer(db, redisClient, nrApp, cfg)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logTags).WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithFields(logTags).WithField("signal", sig.String()).Info("Shutting down server")
	case err := <-errCh:
		log.WithError(err).WithFields(logTags).Error("Server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	err = srv.http.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not tracked by http.Server.
	srv.core.Shutdown()
	srv.bookings.Shutdown()
	if nrApp != nil {
		nrApp.Shutdown(cfg.Server.ShutdownTimeout)
	}
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Server forced to shutdown")
		return err
	}

	log.WithFields(logTags).Info("Server exited")
	return nil
}

// dispatchServer bundles what must be stopped on shutdown.
type dispatchServer struct {
	http     *http.Server
	core     *realtime.Core
	bookings *service.BookingService
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *dispatchServer {
	// Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Repositories.
	userRepo := postgres.NewUserRepository(db)
	driverRepo := postgres.NewDriverRepository(db)
	bookingRepo := postgres.NewBookingRepository(db)
	pricingRepo := postgres.NewPricingRepository(db)

	core := realtime.NewCore(cfg.Dispatch.HeartbeatInterval)

	// Services.
	driverService := service.NewDriverService(locationStore, cacheStore, driverRepo)
	matchingService := service.NewMatchingService(locationStore, cacheStore, driverRepo, userRepo, service.MatchingConfig{
		DefaultRadiusKm:     cfg.Dispatch.DefaultRadiusKm,
		PinkCaptainRadiusKm: cfg.Dispatch.PinkCaptainRadiusKm,
		MinKYCLevel:         cfg.Dispatch.MinKYCLevel,
	})
	bookingService := service.NewBookingService(service.BookingDeps{
		Bookings: bookingRepo,
		Pricing:  pricingRepo,
		Finder:   matchingService,
		Drivers:  driverService,
		Locks:    lockStore,
		Notifier: service.NewNotifier(core),
	}, service.BookingConfig{
		PendingTTL:      cfg.Dispatch.PendingTTL,
		WaitingTick:     cfg.Dispatch.WaitingTick,
		AverageSpeedKmh: cfg.Dispatch.AverageSpeedKmh,
		DriverLockTTL:   cfg.Dispatch.DriverLockTTL,
	})

	// Event handlers.
	events := handler.NewEventHandler(bookingService, driverService, core)
	events.Register(core.Dispatcher,
		middleware.Instrument(nrApp),
		middleware.Idempotent(cacheStore, cfg.Dispatch.IdempotencyTTL, handler.MutatingEvents...),
	)
	core.OnDisconnect(events.DriverDisconnected)

	wsHandler := websocket.NewHandler(core, websocket.Config{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		SendQueueSize:   cfg.WebSocket.SendQueueSize,
		WriteWait:       cfg.WebSocket.WriteWait,
	})

	router := app.NewRouter(app.RouterDeps{
		BookingHandler:   handler.NewBookingHandler(bookingService),
		WebSocketHandler: wsHandler,
		Verifier:         auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		NewRelicApp:      nrApp,
		ActiveBookings:   bookingService.ActiveCount,
	})

	return &dispatchServer{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		core:     core,
		bookings: bookingService,
	}
}
