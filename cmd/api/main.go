package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/tcgpacks/internal/api"
	"github.com/fastprodman/tcgpacks/internal/infra/logging"
	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/jobs"
	"github.com/fastprodman/tcgpacks/internal/notify"
	pgusers "github.com/fastprodman/tcgpacks/internal/repos/users/postgres"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
	"github.com/fastprodman/tcgpacks/internal/services/packs"
	"github.com/fastprodman/tcgpacks/internal/services/tasks"
	"github.com/fastprodman/tcgpacks/pkg/envconf"
	"github.com/fastprodman/tcgpacks/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	err := envconf.LoadDotEnv()
	if err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg := new(apiConfig)

	err = envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	log := logging.SetupJSON(cfg.LogLevel)
	shutdown := shutdownqueue.New().WithLogger(log)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdown.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	packCfg := packs.DefaultConfig()
	if cfg.PackConfigFile != "" {
		packCfg, err = packs.LoadConfig(cfg.PackConfigFile)
		if err != nil {
			return err
		}
	}

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdown.Add("database", func(context.Context) error {
		return db.Close()
	})

	hub := notify.NewHub(log)
	shutdown.Add("notification hub", func(context.Context) error {
		return hub.Close()
	})

	sink := notify.Fanout{hub, notify.LogSink{Logger: log}}

	// --- Services ---
	creditSrv := credits.New(db,
		credits.WithSink(sink),
		credits.WithDailyBonus(cfg.Credits.DailyBonus),
		credits.WithRetryPolicy(credits.RetryPolicy{
			Attempts: cfg.Credits.RetryAttempts,
			Backoff:  cfg.Credits.RetryBackoff,
		}),
	)
	packSrv := packs.New(db, packCfg, creditSrv)

	runner, err := jobs.NewRunner(cfg.Jobs, jobs.WithSink(sink), jobs.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init job runner: %w", err)
	}

	runnerCtx, stopRunner := context.WithCancel(context.WithoutCancel(ctx))
	runnerDone := make(chan error, 1)

	go func() {
		runnerDone <- runner.Run(runnerCtx)
	}()

	// registered before the server so it runs after it: in-flight requests
	// may still submit jobs while the server drains
	shutdown.Add("job runner", func(c context.Context) error {
		runner.Close()
		stopRunner()

		select {
		case err := <-runnerDone:
			return err
		case <-c.Done():
			return fmt.Errorf("wait for workers: %w", c.Err())
		}
	})

	taskSrv := tasks.New(runner, packSrv, creditSrv)

	// --- HTTP server ---
	handler, err := api.NewRouter(
		api.NewHandler(creditSrv, packSrv, taskSrv, pgusers.New(db), hub),
		api.RouterConfig{
			Auth:           cfg.Auth,
			RateLimit:      cfg.RateLimit,
			AllowedOrigins: cfg.origins(),
			Logger:         log,
		},
	)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	srv := api.NewServer(cfg.Port, handler)

	shutdown.Add("http server", func(c context.Context) error {
		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started",
		"port", cfg.Port,
		"pack_cost", packCfg.Cost,
		"pack_size", packCfg.Size(),
		"workers", cfg.Jobs.Workers,
	)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
