package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/types"
)

// Scenario is one end-to-end check.
type Scenario struct {
	Name        string
	Description string
	// Device defaults to browser.Desktop.
	Device browser.Device
	Run    func(ctx context.Context, env *Env) error
}

// Runner executes scenarios, each in its own browser session.
type Runner struct {
	Driver      browser.Driver
	Catalog     *catalog.Catalog
	Settings    Settings
	Parallelism int
	Timeout     time.Duration
	Classifier  capture.Classifier
	Prober      *linkprobe.Prober
	// Prepare runs on every new session before the scenario starts, e.g.
	// to seed stored cookies. An error fails the scenario as infra.
	Prepare func(ctx context.Context, s browser.Session) error
}

// Run executes scenarios with bounded parallelism and returns one result
// per scenario in input order. Scenario failures are results; the error
// is non-nil only if ctx ended first.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) ([]types.ScenarioResult, error) {
	logger := logging.FromContext(ctx).With("component", "runner")
	results := make([]types.ScenarioResult, len(scenarios))

	limit := r.Parallelism
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, sc := range scenarios {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = interrupted(sc, ctx.Err())
				return nil
			}
			results[i] = r.RunOne(ctx, sc)
			res := results[i]
			logger.Info("scenario finished",
				"scenario", res.Scenario,
				"device", res.Device,
				"status", res.Status,
				"duration", res.Duration.Round(time.Millisecond),
				"reason", res.Reason)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func interrupted(sc Scenario, err error) types.ScenarioResult {
	return types.ScenarioResult{
		Scenario: sc.Name,
		Device:   deviceOf(sc).Name,
		Status:   types.StatusFail,
		Kind:     types.KindInfra,
		Reason:   "not run: " + err.Error(),
		Started:  time.Now(),
	}
}

func deviceOf(sc Scenario) browser.Device {
	if sc.Device.IsZero() {
		return browser.Desktop
	}
	return sc.Device
}

// RunOne executes a single scenario. The session is torn down before it
// returns, whatever the outcome.
func (r *Runner) RunOne(ctx context.Context, sc Scenario) (res types.ScenarioResult) {
	device := deviceOf(sc)
	logger := logging.FromContext(ctx).With("scenario", sc.Name, "device", device.Name)
	ctx = logging.WithLogger(ctx, logger)

	start := time.Now()
	res = types.ScenarioResult{Scenario: sc.Name, Device: device.Name, Started: start}
	machine := &Machine{}
	defer func() {
		res.Duration = time.Since(start)
		if machine.Phase() != Finalized {
			_ = machine.Finalize(res.Status)
		}
	}()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := r.Driver.NewSession(ctx, device)
	if err != nil {
		res.Status, res.Kind, res.Reason = Classify(assert.Infra("new session", err))
		return res
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	if r.Prepare != nil {
		if err := r.Prepare(ctx, session); err != nil {
			res.Status, res.Kind, res.Reason = Classify(assert.Infra("prepare session", err))
			return res
		}
	}

	classifier := r.Classifier
	if classifier == nil {
		classifier = capture.DefaultClassifier
	}
	capt := capture.Start(session)
	defer capt.Stop(classifier)

	env := &Env{
		Page:       session,
		Catalog:    r.Catalog,
		Settings:   r.Settings,
		Soft:       &soft.Collector{},
		Logger:     logger,
		Prober:     r.Prober,
		machine:    machine,
		capture:    capt,
		classifier: classifier,
	}
	if env.Catalog == nil {
		env.Catalog = catalog.Default()
	}

	err = invoke(ctx, sc, env)
	if err == nil {
		err = env.Soft.Finalize()
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded && errors.Is(err, context.DeadlineExceeded) {
		err = &assert.TimeoutError{Op: "scenario " + sc.Name, Elapsed: time.Since(start), Budget: timeout}
	}

	res.Status, res.Kind, res.Reason = Classify(err)
	res.Checks = env.Soft.Entries()
	res.Errors = capt.Stop(classifier)
	res.Links = env.recordedLinks()

	if ferr := machine.Finalize(res.Status); ferr != nil {
		logger.Debug("finalize", "error", ferr)
	}
	return res
}

func invoke(ctx context.Context, sc Scenario, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scenario panicked: %v", p)
		}
	}()
	if sc.Run == nil {
		return errors.New("scenario has no body")
	}
	return sc.Run(ctx, env)
}

// Classify maps an error chain to a terminal status, a failure kind and a
// human-readable reason.
func Classify(err error) (types.Status, types.FailureKind, string) {
	if err == nil {
		return types.StatusPass, types.KindNone, ""
	}

	var (
		skip  *assert.SkipError
		infra *assert.InfraError
		to    *assert.TimeoutError
		ae    *assert.AssertionError
		agg   *soft.AggregateFailure
	)
	switch {
	case errors.As(err, &skip):
		return types.StatusSkip, types.KindNone, skip.Reason
	case errors.As(err, &infra):
		return types.StatusFail, types.KindInfra, err.Error()
	case errors.As(err, &to):
		return types.StatusFail, types.KindTimeout, err.Error()
	case errors.As(err, &ae), errors.As(err, &agg):
		return types.StatusFail, types.KindAssertion, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return types.StatusFail, types.KindTimeout, err.Error()
	default:
		return types.StatusFail, types.KindError, err.Error()
	}
}
