package cookies

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/resolve"
	"github.com/ibeckermayer/docprobe/internal/wait"
)

// CaptureOptions tunes Capture. Zero values pick the defaults.
type CaptureOptions struct {
	// Timeout is how long the user gets to dismiss the banner (5 minutes).
	Timeout time.Duration
	// Interval between banner checks (2 seconds).
	Interval time.Duration
	// Grace ends the wait early when no banner showed up at all (10 seconds).
	Grace time.Duration
	// Banner locates the consent dialog.
	Banner []resolve.Strategy
}

func (o CaptureOptions) withDefaults() CaptureOptions {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Grace <= 0 {
		o.Grace = 10 * time.Second
	}
	return o
}

// Capture opens siteURL in a new session of d, normally a headful one, and
// waits for the user to dismiss the consent banner. Whatever cookies the
// session holds afterwards are saved to store, also when the wait timed
// out. It returns the number of cookies saved.
func Capture(ctx context.Context, d browser.Driver, store *Store, siteURL string, opts CaptureOptions) (int, error) {
	logger := logging.FromContext(ctx).With("component", "cookies")
	opts = opts.withDefaults()
	if len(opts.Banner) == 0 {
		return 0, fmt.Errorf("no consent banner strategies")
	}

	session, err := d.NewSession(ctx, browser.Desktop)
	if err != nil {
		return 0, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if _, err := session.Navigate(ctx, siteURL); err != nil {
		return 0, fmt.Errorf("failed to navigate to %s: %w", siteURL, err)
	}
	logger.Info("waiting for consent banner to be dismissed", "url", siteURL, "timeout", opts.Timeout)

	outcome, err := waitForDismissal(ctx, session, opts)
	if err != nil {
		return 0, fmt.Errorf("consent wait failed: %w", err)
	}
	if outcome.TimedOut() {
		logger.Warn("consent banner still visible, saving cookies anyway", "elapsed", outcome.Elapsed)
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to extract cookies: %w", err)
	}
	if err := store.Save(siteURL, cookies); err != nil {
		return 0, fmt.Errorf("failed to save cookies: %w", err)
	}
	logger.Info("cookies saved", "count", len(cookies), "path", store.Path())
	return len(cookies), nil
}

// waitForDismissal polls until a banner that was seen is gone, or no banner
// appeared within the grace period.
func waitForDismissal(ctx context.Context, page browser.Page, opts CaptureOptions) (wait.Outcome, error) {
	seen := false
	start := time.Now()
	return wait.Until(ctx, opts.Timeout, opts.Interval, func(ctx context.Context) (bool, error) {
		res, err := resolve.Once(ctx, page, opts.Banner)
		if err != nil {
			return false, err
		}
		if res.Found {
			seen = true
			return false, nil
		}
		return seen || time.Since(start) >= opts.Grace, nil
	})
}

// Seeder loads the stored cookies matching the host of siteURL once and
// returns a function that sets them on a session, for
// scenario.Runner.Prepare. It returns a nil function when nothing is
// stored.
func (s *Store) Seeder(siteURL string) (func(ctx context.Context, sess browser.Session) error, int, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid site url %q: %w", siteURL, err)
	}
	cookies, err := s.ForHost(u.Host)
	if err == ErrNoCookies || (err == nil && len(cookies) == 0) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return func(ctx context.Context, sess browser.Session) error {
		return Seed(ctx, sess, cookies)
	}, len(cookies), nil
}

// Seed sets cookies on sess.
func Seed(ctx context.Context, sess browser.Session, cookies []browser.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := sess.SetCookies(ctx, cookies); err != nil {
		return fmt.Errorf("failed to seed %d cookies: %w", len(cookies), err)
	}
	return nil
}
