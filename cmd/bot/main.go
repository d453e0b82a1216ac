package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"referral-bot/internal/api"
	"referral-bot/internal/bot"
	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/dedup"
	"referral-bot/internal/logger"
	"referral-bot/internal/referral"
	"referral-bot/internal/utils"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Could not build logger: %v", err)
	}

	if err := run(cfg, zl); err != nil {
		zl.Error("service failed", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
	_ = zl.Sync()
}

// run owns every resource so deferred closes happen on both clean and failed exits.
func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.AdminAllowedCIDRs) == 0 {
		return errors.New("ADMIN_ALLOWED_CIDRS is empty, the admin api would reject every request")
	}
	allowed, err := utils.ParseCIDRs(cfg.AdminAllowedCIDRs)
	if err != nil {
		return fmt.Errorf("invalid ADMIN_ALLOWED_CIDRS: %w", err)
	}

	// Connect to Database
	store, err := database.Open(cfg, zl)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			zl.Warn("database close", zap.Error(err))
		}
	}()

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = database.EnsureSchema(schemaCtx, store.DB(schemaCtx))
	cancel()
	if err != nil {
		return fmt.Errorf("could not ensure database schema: %w", err)
	}
	zl.Info("database schema ready")

	// Update guard: Redis when configured, otherwise in-process
	var guard dedup.Guard
	if cfg.RedisHost != "" {
		rdb, err := database.ConnectRedis(cfg, zl)
		if err != nil {
			return fmt.Errorf("could not connect to redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		guard = dedup.NewRedisGuard(rdb, cfg.UpdateGuardTTL)
	} else {
		guard = dedup.NewMemoryGuard(cfg.UpdateGuardTTL)
		zl.Info("using in-memory update guard")
	}

	referrals := referral.NewService(store, cfg.OperationTimeout, zl.Named("referral"))

	router, err := api.SetupRouter(cfg.GinMode, zl, allowed, cfg.TrustedProxies, api.NewHandler(referrals, store, zl.Named("api")))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var tgBot *bot.Bot
	if cfg.BotToken != "" {
		tgBot, err = bot.NewBot(cfg.BotToken, referrals, store, guard, zl.Named("bot"))
		if err != nil {
			return fmt.Errorf("could not create bot: %w", err)
		}
	} else {
		zl.Warn("TELEGRAM_BOT_TOKEN is empty, bot disabled")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		zl.Info("admin api listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("admin api failed", zap.Error(err))
			stop()
		}
	}()

	if tgBot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tgBot.Start(ctx); err != nil && ctx.Err() == nil {
				zl.Error("bot stopped", zap.Error(err))
				stop()
			}
		}()
	}

	zl.Info("service started successfully")
	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("admin api shutdown", zap.Error(err))
	}

	// The store closes only after the api and the bot handlers have drained.
	wg.Wait()
	return nil
}
