// Package linkprobe checks that links on a page still answer. Each link
// gets one HEAD request; redirects are reported, not followed.
package linkprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/docprobe/internal/logging"
)

// ExternalSelector matches anchors with absolute or protocol-relative
// hrefs.
const ExternalSelector = `a[href*="http"], a[href*="//"]`

type Outcome string

const (
	Status         Outcome = "status"
	Timeout        Outcome = "timeout"
	TransportError Outcome = "transport-error"
)

// Result is the outcome of probing one URL.
type Result struct {
	URL     string        `json:"url"`
	Outcome Outcome       `json:"outcome"`
	Status  int           `json:"status,omitempty"`
	Err     string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Broken reports whether the link answered with 404 or a server error.
func (r Result) Broken() bool {
	return r.Outcome == Status && (r.Status == http.StatusNotFound || r.Status >= 500)
}

func (r Result) String() string {
	switch r.Outcome {
	case Status:
		return fmt.Sprintf("%s -> %d", r.URL, r.Status)
	case Timeout:
		return fmt.Sprintf("%s -> timeout after %s", r.URL, r.Elapsed.Round(time.Millisecond))
	default:
		return fmt.Sprintf("%s -> %s", r.URL, r.Err)
	}
}

// ExtractLinks returns the distinct hrefs matched by selector in html,
// resolved against base, in document order. mailto:, tel: and javascript:
// links are dropped.
func ExtractLinks(html, base, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		lower := strings.ToLower(href)
		for _, prefix := range []string{"mailto:", "tel:", "javascript:"} {
			if strings.HasPrefix(lower, prefix) {
				return
			}
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		u := abs.String()
		if !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	})
	return links, nil
}

// Sample returns the first n links.
func Sample(links []string, n int) []string {
	if n <= 0 || n >= len(links) {
		return links
	}
	return links[:n]
}

// Prober issues the HEAD requests.
type Prober struct {
	client      *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	concurrency int
	userAgent   string
}

type Options struct {
	Timeout         time.Duration
	RatePerSecond   float64
	Concurrency     int
	FollowRedirects bool
	UserAgent       string
}

func New(opts Options) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	// One request per host; idle connections would only linger.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	client := &http.Client{Transport: transport}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &Prober{
		client:      client,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		userAgent:   opts.UserAgent,
	}
}

// Probe checks every URL and returns one result per URL in input order.
// Individual link failures are results, not errors; the error is non-nil
// only when ctx ends.
func (p *Prober) Probe(ctx context.Context, urls []string) ([]Result, error) {
	logger := logging.FromContext(ctx).With("component", "linkprobe")
	results := make([]Result, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			results[i] = p.head(ctx, u)
			logger.Debug("probed link", "result", results[i].String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("link probe interrupted: %w", err)
	}
	return results, nil
}

func (p *Prober) head(ctx context.Context, u string) Result {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, u, nil)
	if err != nil {
		return Result{URL: u, Outcome: TransportError, Err: err.Error()}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return Result{URL: u, Outcome: Timeout, Err: err.Error(), Elapsed: elapsed}
		}
		return Result{URL: u, Outcome: TransportError, Err: err.Error(), Elapsed: elapsed}
	}
	resp.Body.Close()
	return Result{URL: u, Outcome: Status, Status: resp.StatusCode, Elapsed: elapsed}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
