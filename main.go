package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kyu1204/kingsick-mk4-sub000/config"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/alert"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/api"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/apikeys"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/auth"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/engine"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/events"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/notification"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/scheduler"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("invalid configuration", "error", err)
	}

	log := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.Output,
		Pretty: cfg.Logging.Pretty,
	})
	logging.SetDefault(log)
	log.Info("starting kingsick", "timezone", cfg.Scheduler.Timezone)

	ctx := context.Background()

	db, err := database.NewDB(cfg.Database, log)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal("migrations failed", "error", err)
	}
	repo := database.NewRepository(db)

	var alerts alert.Store
	if cfg.Redis.Enabled {
		redisClient, err := alert.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisClient.Close()
		alerts = alert.NewRedisStore(redisClient, log)
		log.Info("alert store: redis", "addr", cfg.Redis.Address)
	} else {
		alerts = alert.NewMemoryStore()
		log.Warn("alert store: in-memory, alerts do not survive restarts")
	}

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		log.Fatal("vault client failed", "error", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			log.Fatal("vault health check failed", "error", err)
		}
	} else {
		log.Warn("vault disabled, credentials held in memory only")
	}
	keys := apikeys.NewService(vaultClient, log)

	notifier := notification.NewManager(log)
	if cfg.Notification.Enabled {
		notifier.AddProvider(notification.NewTelegram(cfg.Notification.Telegram))
		notifier.AddProvider(notification.NewDiscord(cfg.Notification.Discord))
	}

	bus := events.NewBus()
	manager := engine.NewManager(keys, repo, alerts, notifier, bus, &cfg.Risk, log)

	clock, err := scheduler.NewMarketClock(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatal("market clock failed", "error", err)
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = time.Duration(cfg.Scheduler.TickIntervalMin) * time.Minute
	schedCfg.TickDeadline = time.Duration(cfg.Scheduler.TickDeadlineSec) * time.Second
	schedCfg.MaxConcurrentUsers = cfg.Scheduler.MaxConcurrentUsers

	sched := scheduler.New(clock, repo, manager, schedCfg, log)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration)
	authService := auth.NewService(repo, jwtManager, log)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProductionMode: cfg.Server.ProductionMode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api.Deps{
		Repo:        repo,
		Manager:     manager,
		Brokers:     keys,
		Credentials: keys,
		Auth:        authService,
		JWT:         jwtManager,
		Scheduler:   sched,
		Clock:       clock,
		Bus:         bus,
		Log:         log,
	})

	if err := sched.Start(); err != nil {
		log.Fatal("scheduler start failed", "error", err)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		log.Error("api server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	log.Info("shutdown complete")
}
