package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/coverage-consortium/internal/config"
	"github.com/iliyamo/coverage-consortium/internal/database"
	"github.com/iliyamo/coverage-consortium/internal/handler"
	"github.com/iliyamo/coverage-consortium/internal/logging"
	"github.com/iliyamo/coverage-consortium/internal/metrics"
	"github.com/iliyamo/coverage-consortium/internal/middleware"
	"github.com/iliyamo/coverage-consortium/internal/queue"
	"github.com/iliyamo/coverage-consortium/internal/repository"
	"github.com/iliyamo/coverage-consortium/internal/router"
	"github.com/iliyamo/coverage-consortium/internal/scheduler"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("read .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := database.Open(ctx, database.Settings{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and response cache disabled", zap.String("addr", config.RedisAddr()))
	} else {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	var pub service.Publisher = queue.NopPublisher{}
	if cfg.Queue.Enabled {
		pub = queue.NewPublisher(cfg.Queue.URL, logger.Named("publisher"))
	}
	svc := service.New(repository.NewStore(db), logger.Named("engine"),
		service.WithPublisher(pub),
		service.WithMetrics(m))

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover(), middleware.RequestID(), middleware.RequestLogger(logger.Named("http")))
	router.Register(e, router.Deps{
		JWTSecret:  cfg.JWTSecret,
		Auth:       handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), svc, logger),
		Requests:   handler.NewRequestHandler(svc),
		Bids:       handler.NewBidHandler(svc),
		Consortium: handler.NewConsortiumHandler(svc),
		KYC:        handler.NewKYCHandler(svc),
		Limit:      middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger),
		Cache:      middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logger),
		Gatherer:   reg,
		Ready:      map[string]handler.Pinger{"mysql": db},
	})

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Queue.Enabled && cfg.Queue.ConsumerEnabled {
		consumer := queue.NewConsumer(cfg.Queue.URL, cfg.Queue.LogDir, logger.Named("audit"))
		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
	}
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(svc, cfg.Scheduler, logger, m)
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
