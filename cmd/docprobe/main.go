// Command docprobe runs end-to-end checks against a documentation site and
// inspects their history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/browser"

	"github.com/ibeckermayer/docprobe/internal/app"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/config"
	"github.com/ibeckermayer/docprobe/internal/cookies"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/report"
	"github.com/ibeckermayer/docprobe/internal/store"
	"github.com/ibeckermayer/docprobe/internal/suite"
	"github.com/ibeckermayer/docprobe/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "run":
		return runSuite(ctx, args)
	case "list":
		err = runList()
	case "history":
		err = runHistory(ctx, args)
	case "show":
		err = runShow(ctx, args)
	case "open":
		err = runOpen(args)
	case "init":
		err = runInit(args)
	case "cookies":
		err = runCookies(ctx, args)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		printUsage()
		return 2
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println("Usage: docprobe <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run              Run scenarios against the target site")
	fmt.Println("  list             List scenarios")
	fmt.Println("  history [-n N]   Show recent runs")
	fmt.Println("  show <run-id>    Show one run in detail")
	fmt.Println("  open <config|cache|report>")
	fmt.Println("                   Open a file or directory with the system handler")
	fmt.Println("  init [-force]    Write the default config file")
	fmt.Println("  cookies <capture|clear>")
	fmt.Println("                   Dismiss the consent banner once and keep its cookies")
}

// setup loads configuration, installs the logger and opens the store.
func setup() (*config.Config, *store.Store, error) {
	cfg, _, err := config.LoadOrDefault()
	if err != nil {
		logging.Init("info", true)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Color)

	dbPath, err := config.DatabasePath()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run database: %w", err)
	}
	return cfg, st, nil
}

func newApp(cfg *config.Config, st *store.Store) (*app.App, error) {
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

func runSuite(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scenarios := fs.String("scenarios", "", "Comma separated scenario names; all when empty.")
	driver := fs.String("driver", "", "Browser driver: chromedp or playwright.")
	headful := fs.Bool("headful", false, "Show the browser window.")
	parallel := fs.Int("parallel", 0, "Number of scenarios run at once.")
	base := fs.String("base", "", "Base URL of the site under test.")
	format := fs.String("format", "table", "Output format: table or json.")
	noEmail := fs.Bool("no-email", false, "Do not send the report email.")
	fs.Parse(args)

	cfg, st, err := setup()
	if err != nil {
		slog.Error("setup failed", "error", err)
		return 1
	}
	defer st.Close()

	a, err := newApp(cfg, st)
	if err != nil {
		slog.Error("setup failed", "error", err)
		return 1
	}

	var names []string
	if *scenarios != "" {
		names = strings.Split(*scenarios, ",")
	}
	out, err := a.Run(ctx, app.RunOptions{
		Scenarios:   names,
		Driver:      *driver,
		Headful:     *headful,
		Parallelism: *parallel,
		BaseURL:     *base,
		SkipNotify:  *noEmail,
	})
	if out != nil && out.Run != nil {
		if perr := printRun(out.Run, *format, cfg.Log.Color); perr != nil {
			slog.Error("failed to print results", "error", perr)
		}
		if out.ReportPath != "" && *format != "json" {
			fmt.Printf("\nReport: %s\n", out.ReportPath)
		}
	}
	if err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}
	if out.Failed() {
		return 1
	}
	return 0
}

func printRun(run *types.Run, format string, color bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case "table", "":
		report.Table(os.Stdout, run, color)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func runList() error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scenario", "Device", "Description"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, sc := range suite.All() {
		device := "Desktop"
		if !sc.Device.IsZero() {
			device = sc.Device.Name
		}
		table.Append([]string{sc.Name, device, sc.Description})
	}
	table.SetBorder(false)
	table.Render()
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of runs to show.")
	fs.Parse(args)

	_, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, *n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	report.History(os.Stdout, runs)
	return nil
}

func runShow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: docprobe show <run-id|latest>")
	}
	cfg, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	var run *types.Run
	if args[0] == "latest" {
		run, err = st.LatestRun(ctx)
	} else {
		id, perr := strconv.ParseInt(args[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		run, err = st.GetRun(ctx, id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run #%d  %s  %s (%s, %s)\n\n", run.ID, run.StartedAt.Local().Format(time.DateTime),
		run.BaseURL, run.Driver, run.Duration().Round(time.Millisecond))
	report.Table(os.Stdout, run, cfg.Log.Color)

	for _, res := range run.Results {
		critical := res.Errors.Critical()
		var broken []string
		for _, l := range res.Links {
			if l.Broken() {
				broken = append(broken, l.String())
			}
		}
		if len(critical) == 0 && len(broken) == 0 {
			continue
		}
		fmt.Printf("\n%s:\n", res.Scenario)
		for _, m := range critical.Messages() {
			fmt.Printf("  error:  %s\n", m)
		}
		for _, b := range broken {
			fmt.Printf("  broken: %s\n", b)
		}
	}
	return nil
}

func runOpen(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: docprobe open <config|cache|report>")
	}

	var path string
	var err error
	switch args[0] {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	case "report":
		cfg, _, lerr := config.LoadOrDefault()
		if lerr != nil {
			return lerr
		}
		var dir string
		if dir, err = cfg.ReportDir(); err == nil {
			path, err = report.Latest(dir)
		}
	default:
		return fmt.Errorf("unknown target: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get path: %w", err)
	}

	if err := browser.OpenFile(path); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file.")
	fs.Parse(args)

	logging.Init("info", true)
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite", path)
	}
	if err := config.Default().SaveFile(path); err != nil {
		return err
	}
	slog.Info("wrote default config", "path", path)
	return nil
}

func runCookies(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: docprobe cookies <capture|clear>")
	}
	fs := flag.NewFlagSet("cookies", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for the banner to be dismissed.")
	fs.Parse(args[1:])

	cfg, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()
	a, err := newApp(cfg, st)
	if err != nil {
		return err
	}

	switch args[0] {
	case "capture":
		fmt.Printf("Opening %s. Accept or dismiss the cookie banner in the browser window.\n", cfg.Target.BaseURL)
		n, err := a.CaptureCookies(ctx, cookies.CaptureOptions{Timeout: *timeout})
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d cookies. Set run.use_cookies = true to use them.\n", n)
		return nil
	case "clear":
		return a.ClearCookies()
	default:
		return fmt.Errorf("unknown cookies command: %s", args[0])
	}
}
