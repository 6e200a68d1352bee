// Command docprobe-daemon runs the scenario suite on the configured cron
// schedule until interrupted. SIGHUP reloads the configuration.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibeckermayer/docprobe/internal/app"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/config"
	"github.com/ibeckermayer/docprobe/internal/cookies"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/scheduler"
	"github.com/ibeckermayer/docprobe/internal/store"
)

const jobName = "suite"

func main() {
	runNow := flag.Bool("now", false, "Run the suite once at startup. With the schedule disabled, run once and exit.")
	flag.Parse()

	// Load or create configuration
	cfg, found, err := config.LoadOrDefault()
	if err != nil {
		logging.Init("info", true)
		slog.Error("could not load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.Log.Level, cfg.Log.Color)
	if !found {
		// First run - create default config
		if err := cfg.Save(); err != nil {
			logger.Warn("could not save default config", "error", err)
		} else {
			path, _ := config.ConfigPath()
			logger.Info("created default config", "path", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	dbPath, err := config.DatabasePath()
	if err != nil {
		logger.Error("failed to get database path", "error", err)
		os.Exit(1)
	}
	st, err := store.New(dbPath)
	if err != nil {
		logger.Error("failed to open run database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	a, err := buildApp(cfg, st)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if !cfg.Schedule.Enabled {
		if !*runNow {
			logger.Error("schedule.enabled is false; enable it or pass -now for a single run")
			os.Exit(1)
		}
		if err := a.RunScheduled(ctx); err != nil {
			logger.Error("run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sched, err := schedule(a.Config(), a, logger)
	if err != nil {
		logger.Error("failed to schedule suite", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	for _, j := range sched.ListJobs() {
		logger.Info("next run", "job", j.Name, "at", j.NextRun)
	}

	if *runNow {
		go func() {
			if err := sched.RunNow(ctx, jobName); err != nil {
				logger.Warn("startup run", "error", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Info("docprobe daemon started", "target", cfg.Target.BaseURL)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			<-sched.Stop().Done()
			return
		case <-hup:
			if err := a.ReloadConfig(); err != nil {
				logger.Error("reload failed, keeping previous configuration", "error", err)
				continue
			}
			next, err := schedule(a.Config(), a, logger)
			if err != nil {
				logger.Error("reschedule failed, keeping previous schedule", "error", err)
				continue
			}
			<-sched.Stop().Done()
			sched = next
			sched.Start(ctx)
		}
	}
}

func buildApp(cfg *config.Config, st *store.Store) (*app.App, error) {
	catPath, err := config.CatalogPath()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(catPath)
	if err != nil {
		return nil, err
	}
	cookiePath, err := cookies.DefaultPath()
	if err != nil {
		return nil, err
	}
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, st,
		app.WithCatalog(cat),
		app.WithCookieStore(cookies.NewStore(cookiePath)),
		app.WithArtifactDir(cacheDir),
	), nil
}

// schedule creates a scheduler running the suite per cfg.
func schedule(cfg *config.Config, a *app.App, logger *slog.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(cfg.Schedule.Timezone,
		scheduler.WithLogger(logger),
		scheduler.WithJobTimeout(cfg.Run.ScenarioTimeout*10),
	)
	if err != nil {
		return nil, err
	}
	if err := s.AddJob(jobName, cfg.Schedule.Cron, a.RunScheduled); err != nil {
		return nil, err
	}
	return s, nil
}
