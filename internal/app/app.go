package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openfile "github.com/pkg/browser"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/config"
	"github.com/ibeckermayer/docprobe/internal/cookies"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/notifier"
	"github.com/ibeckermayer/docprobe/internal/report"
	"github.com/ibeckermayer/docprobe/internal/scenario"
	"github.com/ibeckermayer/docprobe/internal/store"
	"github.com/ibeckermayer/docprobe/internal/suite"
	"github.com/ibeckermayer/docprobe/internal/types"
)

// ErrRunFailed is returned by RunScheduled when at least one scenario
// failed.
var ErrRunFailed = errors.New("run failed")

// DriverFactory starts a browser driver.
type DriverFactory func(ctx context.Context, opts browser.Options) (browser.Driver, error)

// App holds the application state.
type App struct {
	mu sync.RWMutex

	// Immutable after creation.
	store       *store.Store
	cookies     *cookies.Store
	newDriver   DriverFactory
	sender      notifier.Sender
	artifactDir string

	// Mutable fields - use getSnapshot() for concurrent access.
	config  *config.Config
	catalog *catalog.Catalog
}

// snapshot holds fields that may be replaced by ReloadConfig.
type snapshot struct {
	config  *config.Config
	catalog *catalog.Catalog
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config, catalog: a.catalog}
}

// Option configures an App.
type Option func(*App)

// WithDriverFactory replaces browser.New.
func WithDriverFactory(f DriverFactory) Option {
	return func(a *App) { a.newDriver = f }
}

// WithSender sends reports through s instead of the configured provider.
func WithSender(s notifier.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithCookieStore sets where captured cookies live.
func WithCookieStore(s *cookies.Store) Option {
	return func(a *App) { a.cookies = s }
}

// WithArtifactDir sets the root for JSON run artifacts.
func WithArtifactDir(dir string) Option {
	return func(a *App) { a.artifactDir = dir }
}

// WithCatalog replaces the selector catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// New creates a new App instance.
func New(cfg *config.Config, st *store.Store, opts ...Option) *App {
	a := &App{
		config:    cfg,
		store:     st,
		newDriver: browser.New,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.catalog == nil {
		a.catalog = catalog.Default()
	}
	return a
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// Catalog returns the current selector catalog.
func (a *App) Catalog() *catalog.Catalog {
	return a.getSnapshot().catalog
}

// RunOptions override configuration for a single run. Zero values keep
// the configured setting.
type RunOptions struct {
	Scenarios   []string
	Driver      string
	Headful     bool
	Parallelism int
	BaseURL     string
	// SkipNotify suppresses the email even when one would be sent.
	SkipNotify bool
}

// Outcome is what a run produced.
type Outcome struct {
	Run          *types.Run
	ReportPath   string
	ArtifactPath string
	Notified     bool
}

// Failed reports whether any scenario failed.
func (o *Outcome) Failed() bool {
	return o.Run != nil && o.Run.Failed()
}

// effective applies opts on top of cfg.
func effective(cfg *config.Config, opts RunOptions) *config.Config {
	c := *cfg
	if opts.Driver != "" {
		c.Browser.Driver = opts.Driver
	}
	if opts.Headful {
		c.Browser.Headless = false
	}
	if opts.Parallelism > 0 {
		c.Run.Parallelism = opts.Parallelism
	}
	if opts.BaseURL != "" {
		c.Target.BaseURL = opts.BaseURL
	}
	if len(opts.Scenarios) > 0 {
		c.Run.Scenarios = opts.Scenarios
	}
	return &c
}

// Run executes the selected scenarios, persists the run, writes the report
// and sends the notification. Scenario failures are reported through the
// outcome; the error is non-nil when the run could not happen or could not
// be stored, or when ctx ended. Report and email problems are logged.
func (a *App) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	logger := logging.FromContext(ctx).With(slog.String("component", "app"))
	s := a.getSnapshot()
	cfg := effective(s.config, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	scenarios, err := suite.Select(cfg.Run.Scenarios)
	if err != nil {
		return nil, err
	}

	driver, err := a.newDriver(ctx, browser.Options{
		Driver:    cfg.Browser.Driver,
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		ExecPath:  cfg.Browser.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}()

	runner, err := a.runner(ctx, cfg, s.catalog, driver)
	if err != nil {
		return nil, err
	}

	logger.Info("starting run", "target", cfg.Target.BaseURL, "driver", driver.Name(), "scenarios", len(scenarios))
	run := &types.Run{
		StartedAt: time.Now(),
		BaseURL:   cfg.Target.BaseURL,
		Driver:    driver.Name(),
	}
	results, runErr := runner.Run(ctx, scenarios)
	run.Results = results
	run.FinishedAt = time.Now()

	passed, failed, skipped := run.Counts()
	logger.Info("run finished", "passed", passed, "failed", failed, "skipped", skipped,
		"duration", run.Duration().Round(time.Millisecond))

	// Persist even an interrupted run.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	out := &Outcome{Run: run}
	if err := a.persist(persistCtx, cfg, out); err != nil {
		return out, err
	}
	if runErr != nil {
		return out, runErr
	}

	a.publish(ctx, cfg, out, opts.SkipNotify)
	return out, nil
}

func (a *App) runner(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, driver browser.Driver) (*scenario.Runner, error) {
	r := &scenario.Runner{
		Driver:      driver,
		Catalog:     cat,
		Parallelism: cfg.Run.Parallelism,
		Timeout:     cfg.Run.ScenarioTimeout,
		Settings: scenario.Settings{
			BaseURL:        cfg.Target.BaseURL,
			DocPaths:       cfg.Target.DocPaths,
			ResolveTimeout: cfg.Run.ResolveTimeout,
			WaitTimeout:    cfg.Run.WaitTimeout,
			PollInterval:   cfg.Run.PollInterval,
			LoadBudget:     cfg.Run.LoadBudget,
			SubpageBudget:  cfg.Run.SubpageBudget,
			LinkSample:     cfg.Links.SampleSize,
			TitlePattern:   cfg.Target.TitlePattern,
			Repository:     cfg.Target.Repository,
		},
		Classifier: capture.Any(
			capture.DefaultClassifier,
			capture.IgnoreMessages(cfg.Errors.IgnoreMessages...),
			capture.IgnoreURLs(cfg.Errors.IgnoreURLs...),
		),
		Prober: linkprobe.New(linkprobe.Options{
			Timeout:         cfg.Links.Timeout,
			RatePerSecond:   cfg.Links.RatePerSecond,
			FollowRedirects: cfg.Links.FollowRedirects,
			UserAgent:       cfg.Browser.UserAgent,
		}),
	}

	if cfg.Run.UseCookies && a.cookies != nil {
		seed, n, err := a.cookies.Seeder(cfg.Target.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to load cookies: %w", err)
		}
		if seed != nil {
			logging.FromContext(ctx).Debug("seeding stored cookies", "count", n)
			r.Prepare = seed
		}
	}
	return r, nil
}

// persist stores the run, prunes history and writes the JSON artifact.
func (a *App) persist(ctx context.Context, cfg *config.Config, out *Outcome) error {
	logger := logging.FromContext(ctx)
	if a.store != nil {
		id, err := a.store.SaveRun(ctx, out.Run)
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		logger.Debug("run saved", "id", id)
		if n, err := a.store.Prune(ctx, cfg.Schedule.Keep); err != nil {
			logger.Warn("failed to prune run history", "error", err)
		} else if n > 0 {
			logger.Debug("pruned old runs", "removed", n)
		}
	}
	if a.artifactDir != "" {
		path, err := store.SaveArtifact(a.artifactDir, store.RunArtifact, out.Run)
		if err != nil {
			logger.Warn("failed to write run artifact", "error", err)
		} else {
			out.ArtifactPath = path
		}
	}
	return nil
}

// publish writes the report and emails it.
func (a *App) publish(ctx context.Context, cfg *config.Config, out *Outcome, skipNotify bool) {
	logger := logging.FromContext(ctx)

	builder, err := report.New()
	if err != nil {
		logger.Error("failed to create report builder", "error", err)
		return
	}
	r, err := builder.Build(out.Run)
	if err != nil {
		logger.Warn("no report built", "error", err)
		return
	}

	dir, err := cfg.ReportDir()
	if err != nil {
		logger.Warn("no report directory", "error", err)
	} else if path, err := report.Write(dir, r); err != nil {
		logger.Warn("failed to write report", "error", err)
	} else {
		out.ReportPath = path
		logger.Info("report written", "path", path)
	}

	if skipNotify {
		return
	}
	n, err := a.notifier(cfg)
	if err != nil {
		logger.Warn("email not configured correctly", "error", err)
		return
	}
	if n == nil {
		return
	}
	sent, err := n.Notify(ctx, r)
	if err != nil {
		logger.Warn("failed to send report", "error", err)
		return
	}
	out.Notified = sent
}

func (a *App) notifier(cfg *config.Config) (*notifier.Notifier, error) {
	if !cfg.Email.Enabled {
		return nil, nil
	}
	if a.sender != nil {
		return notifier.New(a.sender, cfg.Email.ToAddr, cfg.Email.OnlyOnFailure), nil
	}
	return notifier.NewFromConfig(cfg.Email)
}

// RunScheduled is the scheduler job: a run with the configured settings.
// It returns ErrRunFailed when a scenario failed so the scheduler logs it.
func (a *App) RunScheduled(ctx context.Context) error {
	out, err := a.Run(ctx, RunOptions{})
	if err != nil {
		return err
	}
	if out.Failed() {
		_, failed, _ := out.Run.Counts()
		return fmt.Errorf("%w: %d of %d scenarios failed", ErrRunFailed, failed, len(out.Run.Results))
	}
	return nil
}

// LatestReport returns the path of the newest HTML report.
func (a *App) LatestReport() (string, error) {
	dir, err := a.Config().ReportDir()
	if err != nil {
		return "", err
	}
	return report.Latest(dir)
}

// ViewLastReport opens the most recent report file.
func (a *App) ViewLastReport(ctx context.Context) error {
	path, err := a.LatestReport()
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("opening report", "path", path)
	return openfile.OpenFile(path)
}

// CaptureCookies opens a visible browser on the target site so the user
// can dismiss its consent banner, then stores the cookies.
func (a *App) CaptureCookies(ctx context.Context, opts cookies.CaptureOptions) (int, error) {
	if a.cookies == nil {
		return 0, fmt.Errorf("no cookie store configured")
	}
	s := a.getSnapshot()
	driver, err := a.newDriver(ctx, browser.Options{
		Driver:    s.config.Browser.Driver,
		Headless:  false,
		UserAgent: s.config.Browser.UserAgent,
		ExecPath:  s.config.Browser.ExecPath,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start browser: %w", err)
	}
	defer driver.Close()

	if len(opts.Banner) == 0 {
		if opts.Banner, err = s.catalog.Get("consent-banner"); err != nil {
			return 0, err
		}
	}
	return cookies.Capture(ctx, driver, a.cookies, s.config.Target.BaseURL, opts)
}

// ClearCookies removes stored cookies.
func (a *App) ClearCookies() error {
	if a.cookies == nil {
		return nil
	}
	return a.cookies.Clear()
}

// ReloadConfig reloads the configuration and catalog from disk.
func (a *App) ReloadConfig() error {
	cfg, _, err := config.LoadOrDefault()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	path, err := config.CatalogPath()
	if err != nil {
		return err
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.config = cfg
	a.catalog = cat
	a.mu.Unlock()

	slog.Info("configuration reloaded")
	return nil
}
