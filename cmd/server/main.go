package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/logger"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/queue"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/repository/inmem"
	"github.com/iliyamo/studio-booking/internal/router"
	"github.com/iliyamo/studio-booking/internal/scheduler"
	"github.com/iliyamo/studio-booking/internal/service"
)

const notificationLog = "logs/notifications.log"

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db := openStore(ctx, cfg, zl)
	if db != nil {
		defer db.Close()
	}

	rdb := config.NewRedisClient(zl)
	if rdb != nil {
		defer rdb.Close()
	}

	var notifier booking.Notifier = service.LogNotifier{Log: zl.Named("events")}
	if cfg.NotifyEnabled {
		rn := service.NewRabbitNotifier(cfg.AMQPURL, zl)
		defer rn.Close()
		notifier = rn
	}

	engine := booking.NewEngine(store,
		booking.WithPolicy(cfg.Booking.Policy()),
		booking.WithLogger(zl),
		booking.WithNotifier(notifier),
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl.Named("ratelimit"))
	router.RegisterRoutes(e)
	router.RegisterStudent(e, handler.NewBookingHandler(engine, zl), cfg.JWTSecret, limiter)
	router.RegisterStaff(e, handler.NewStaffHandler(engine, zl), cfg.JWTSecret)

	sweeper := scheduler.NewPaymentSweeper(engine, rdb, cfg.Booking.SweepInterval, cfg.Booking.SweepLockTTL, zl)
	go sweeper.Run(ctx)

	if cfg.NotifyEnabled && cfg.NotifyConsumerEnabled {
		consumer := queue.NewNotificationConsumer(cfg.AMQPURL, notificationLog, zl)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				zl.Warn("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	addr := ":" + cfg.Port
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}

// openStore returns the configured booking store and, for MySQL, the
// underlying pool so main can close it.
func openStore(ctx context.Context, cfg config.Config, zl *zap.Logger) (booking.Store, *sql.DB) {
	if cfg.StoreDriver == config.StoreMemory {
		zl.Warn("using in-memory store; data is lost on restart")
		return inmem.New(), nil
	}
	db, err := database.Open(ctx, database.Options{
		User:            cfg.DBUser,
		Pass:            cfg.DBPass,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		MaxOpenConns:    cfg.DBPool.MaxOpenConns,
		MaxIdleConns:    cfg.DBPool.MaxIdleConns,
		ConnMaxLifetime: cfg.DBPool.ConnMaxLifetime,
	})
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, zl); err != nil {
			zl.Fatal("migrate", zap.Error(err))
		}
		zl.Info("migrations applied")
	}
	return repository.NewStore(db, zl), db
}
