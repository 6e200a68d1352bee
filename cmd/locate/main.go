// Command locate opens a page in a visible browser and resolves one catalog
// concept, printing how every strategy fares. Use it when a selector stops
// matching after a site redesign.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/config"
	"github.com/ibeckermayer/docprobe/internal/logging"
	"github.com/ibeckermayer/docprobe/internal/resolve"
)

func main() {
	driverName := flag.String("driver", "", "Browser driver: chromedp or playwright.")
	headless := flag.Bool("headless", false, "Run without a window and exit right away.")
	device := flag.String("device", "Desktop", "Device preset: Desktop, iPhone SE or iPad.")
	timeout := flag.Duration("timeout", 10*time.Second, "How long to wait for the concept.")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: locate [flags] <concept> [url]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, _, err := config.LoadOrDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Color)

	concept := flag.Arg(0)
	target := cfg.Target.BaseURL
	if flag.NArg() > 1 {
		target = flag.Arg(1)
	}
	if *driverName != "" {
		cfg.Browser.Driver = *driverName
	}
	dev, ok := browser.LookupDevice(*device)
	if !ok {
		slog.Error("unknown device", "device", *device)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := locate(ctx, cfg, concept, target, dev, *timeout, !*headless); err != nil {
		slog.Error("locate failed", "error", err)
		os.Exit(1)
	}
}

func locate(ctx context.Context, cfg *config.Config, concept, target string, dev browser.Device, timeout time.Duration, interactive bool) error {
	catPath, err := config.CatalogPath()
	if err != nil {
		return err
	}
	cat, err := catalog.Load(catPath)
	if err != nil {
		return err
	}
	strategies, err := cat.Get(concept)
	if err != nil {
		return err
	}

	driver, err := browser.New(ctx, browser.Options{
		Driver:    cfg.Browser.Driver,
		Headless:  !interactive,
		UserAgent: cfg.Browser.UserAgent,
		ExecPath:  cfg.Browser.ExecPath,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer driver.Close()

	session, err := driver.NewSession(ctx, dev)
	if err != nil {
		return err
	}
	defer session.Close()

	resp, err := session.Navigate(ctx, target)
	if err != nil {
		return err
	}
	slog.Info("loaded page", "url", resp.URL, "status", resp.Status, "device", dev.Name)

	res, err := resolve.Resolve(ctx, session, strategies, timeout)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Strategy", "Query", "Matches", "Visible", "Winner"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for i, s := range strategies {
		m, err := session.Probe(ctx, s.Query())
		if err != nil {
			return fmt.Errorf("probe %s: %w", s, err)
		}
		winner := ""
		if res.Found && res.Index == i {
			winner = "*"
		}
		table.Append([]string{strconv.Itoa(i), s.Description, s.Query().String(),
			strconv.Itoa(m.Count), strconv.FormatBool(m.Visible), winner})
	}
	table.SetBorder(false)
	table.Render()

	fmt.Printf("\n%s: %s\n", concept, res)
	if res.Found {
		if text, err := res.Element.Text(ctx); err == nil && text != "" {
			fmt.Printf("text: %.120q\n", text)
		}
	}

	if interactive {
		fmt.Println("Press Enter to close the browser...")
		bufio.NewReader(os.Stdin).ReadString('\n')
	}
	return nil
}
