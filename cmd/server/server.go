package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/sirupsen/logrus"

	"github.com/irsalhamdi/coursestream/api"
	"github.com/irsalhamdi/coursestream/api/background"
	"github.com/irsalhamdi/coursestream/cache"
	"github.com/irsalhamdi/coursestream/config"
	"github.com/irsalhamdi/coursestream/core/course"
	"github.com/irsalhamdi/coursestream/core/progress"
	"github.com/irsalhamdi/coursestream/core/session"
	"github.com/irsalhamdi/coursestream/database"
	"github.com/irsalhamdi/coursestream/rate"
	"github.com/irsalhamdi/coursestream/stream/remote"

	streamprogress "github.com/irsalhamdi/coursestream/stream/progress"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			return
		}
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	const prefix = "COURSESTREAM"
	var cfg config.Config
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return err
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	if out, err := conf.String(&cfg); err == nil {
		logger.Infof("config:\n%s", out)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := database.Migrate(db, cfg.DB.Name); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	var (
		mirror   *cache.Mirror
		analytic streamprogress.AnalyticsMirror
	)
	if cfg.Redis.Address != "" {
		mirror, err = cache.Open(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer mirror.Close()
		analytic = mirror
		logger.Infof("mirroring analytics to redis at %s", cfg.Redis.Address)
	}

	var store streamprogress.Store = progress.NewStore(db)
	if cfg.Progress.StoreURL != "" {
		store = remote.New(remote.Config{
			BaseURL: cfg.Progress.StoreURL,
			Log:     logger,
		})
		logger.Infof("persisting progress through %s", cfg.Progress.StoreURL)
	}

	hub := session.NewHub(session.Config{
		Log:      logger,
		Store:    store,
		Mirror:   analytic,
		Progress: cfg.Progress,
		CourseCheck: func(ctx context.Context, courseID string) error {
			_, err := course.Fetch(ctx, db, courseID)
			return err
		},
	})

	bg := background.New(logger)

	limiter := rate.NewLimiter(rate.Config{
		Burst:  cfg.Rate.Burst,
		RPS:    cfg.Rate.RPS,
		Expiry: cfg.Rate.Expiry,
	})
	evictCtx, stopEvict := context.WithCancel(context.Background())
	defer stopEvict()
	go limiter.Run(evictCtx, time.Minute)

	apiCfg := api.APIConfig{
		CorsOrigin:     cfg.Cors.Origin,
		Log:            logger,
		DB:             db,
		Sessions:       hub,
		Background:     bg,
		Mirror:         mirror,
		Limiter:        limiter,
		SessionTimeout: cfg.Progress.SessionTimeout,
	}
	if cfg.Metrics.Enabled {
		apiCfg.MetricsPath = cfg.Metrics.Path
	}

	srv := http.Server{
		Handler:      api.APIMux(apiCfg),
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := hub.Shutdown(ctx); err != nil {
			logger.WithField("message", err).Warn("some sessions could not sync before shutdown")
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
