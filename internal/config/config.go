package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
)

const appName = "docprobe"

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Target   TargetConfig   `toml:"target"`
	Browser  BrowserConfig  `toml:"browser"`
	Run      RunConfig      `toml:"run"`
	Links    LinksConfig    `toml:"links"`
	Errors   ErrorsConfig   `toml:"errors"`
	Schedule ScheduleConfig `toml:"schedule"`
	Report   ReportConfig   `toml:"report"`
	Email    EmailConfig    `toml:"email"`
	Log      LogConfig      `toml:"log"`
}

// TargetConfig describes the site under test.
type TargetConfig struct {
	BaseURL  string   `toml:"base_url" env:"DOCPROBE_BASE_URL"`
	DocPaths []string `toml:"doc_paths" env:"DOCPROBE_DOC_PATHS"`

	// TitlePattern is a regular expression the home page title must match.
	TitlePattern string `toml:"title_pattern"`
	// Repository is the owner/name the GitHub link must point at.
	Repository string `toml:"repository"`
}

type BrowserConfig struct {
	// Driver is "chromedp" or "playwright".
	Driver    string `toml:"driver" env:"DOCPROBE_DRIVER"`
	Headless  bool   `toml:"headless" env:"DOCPROBE_HEADLESS"`
	UserAgent string `toml:"user_agent" env:"DOCPROBE_USER_AGENT"`
	ExecPath  string `toml:"exec_path" env:"DOCPROBE_CHROME_PATH"`
}

type RunConfig struct {
	Parallelism     int           `toml:"parallelism" env:"DOCPROBE_PARALLELISM"`
	ScenarioTimeout time.Duration `toml:"scenario_timeout" env:"DOCPROBE_SCENARIO_TIMEOUT"`
	ResolveTimeout  time.Duration `toml:"resolve_timeout"`
	WaitTimeout     time.Duration `toml:"wait_timeout"`
	PollInterval    time.Duration `toml:"poll_interval"`
	LoadBudget      time.Duration `toml:"load_budget"`
	SubpageBudget   time.Duration `toml:"subpage_budget"`
	Scenarios       []string      `toml:"scenarios" env:"DOCPROBE_SCENARIOS"`
	UseCookies      bool          `toml:"use_cookies"`
}

type LinksConfig struct {
	SampleSize      int           `toml:"sample_size"`
	Timeout         time.Duration `toml:"timeout"`
	RatePerSecond   float64       `toml:"rate_per_second"`
	FollowRedirects bool          `toml:"follow_redirects"`
}

// ErrorsConfig lists substrings that mark captured console or network
// errors as ignorable, on top of the built-in defaults.
type ErrorsConfig struct {
	IgnoreMessages []string `toml:"ignore_messages"`
	IgnoreURLs     []string `toml:"ignore_urls"`
}

type ScheduleConfig struct {
	Enabled  bool   `toml:"enabled"`
	Cron     string `toml:"cron" env:"DOCPROBE_CRON"`
	Timezone string `toml:"timezone"`
	Keep     int    `toml:"keep_runs"`
}

type ReportConfig struct {
	Dir string `toml:"dir" env:"DOCPROBE_REPORT_DIR"`
}

type EmailConfig struct {
	Enabled       bool   `toml:"enabled"`
	OnlyOnFailure bool   `toml:"only_on_failure"`
	Provider      string `toml:"provider"`
	SMTPHost      string `toml:"smtp_host"`
	SMTPPort      int    `toml:"smtp_port"`
	SMTPUser      string `toml:"smtp_user"`
	SMTPPass      string `toml:"smtp_pass" env:"DOCPROBE_SMTP_PASS"`
	FromAddr      string `toml:"from_address"`
	ToAddr        string `toml:"to_address"`
}

type LogConfig struct {
	Level string `toml:"level" env:"DOCPROBE_LOG_LEVEL"`
	Color bool   `toml:"color"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Target: TargetConfig{
			BaseURL:      "https://playwright.dev",
			DocPaths:     []string{"/docs/intro", "/docs/locators", "/docs/actions"},
			TitlePattern: "Playwright",
			Repository:   "microsoft/playwright",
		},
		Browser: BrowserConfig{
			Driver:   "chromedp",
			Headless: true,
		},
		Run: RunConfig{
			Parallelism:     4,
			ScenarioTimeout: 90 * time.Second,
			ResolveTimeout:  5 * time.Second,
			WaitTimeout:     5 * time.Second,
			PollInterval:    100 * time.Millisecond,
			LoadBudget:      5 * time.Second,
			SubpageBudget:   3 * time.Second,
			Scenarios:       []string{},
		},
		Links: LinksConfig{
			SampleSize:    5,
			Timeout:       10 * time.Second,
			RatePerSecond: 5,
		},
		Errors: ErrorsConfig{
			IgnoreMessages: []string{},
			IgnoreURLs:     []string{},
		},
		Schedule: ScheduleConfig{
			Cron:     "0 */6 * * *",
			Timezone: "UTC",
			Keep:     200,
		},
		Email: EmailConfig{
			OnlyOnFailure: true,
			Provider:      "smtp",
			SMTPPort:      587,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CatalogPath returns the path of the optional selector catalog override.
func CatalogPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "catalog.yaml"), nil
}

// CacheDir returns the platform-appropriate cache directory. Run artifacts,
// the run database and reports live here unless configured otherwise.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// DatabasePath returns the path of the run history database.
func DatabasePath() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runs.db"), nil
}

// ReportDir returns the configured report directory or the default one.
func (c *Config) ReportDir() (string, error) {
	if c.Report.Dir != "" {
		return c.Report.Dir, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "reports"), nil
}

// Load reads config from disk. Keys missing from the file keep their
// defaults and environment variables override both. A missing file yields
// an error satisfying os.IsNotExist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config file, falling back to defaults (with
// environment overrides) when the file does not exist.
func LoadOrDefault() (*Config, bool, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg = Default()
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, false, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, false, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path, creating parent directories.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Target.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid target.base_url %q", c.Target.BaseURL)
	}
	if _, err := regexp.Compile(c.Target.TitlePattern); err != nil {
		return fmt.Errorf("invalid target.title_pattern: %w", err)
	}
	switch c.Browser.Driver {
	case "chromedp", "playwright":
	default:
		return fmt.Errorf("unknown browser.driver %q", c.Browser.Driver)
	}
	if c.Run.Parallelism < 1 {
		return fmt.Errorf("run.parallelism must be at least 1, got %d", c.Run.Parallelism)
	}
	if c.Run.ScenarioTimeout <= 0 {
		return fmt.Errorf("run.scenario_timeout must be positive")
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be positive")
	}
	if c.Links.SampleSize < 0 {
		return fmt.Errorf("links.sample_size must not be negative")
	}
	if c.Links.Timeout <= 0 {
		return fmt.Errorf("links.timeout must be positive")
	}
	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron %q: %w", c.Schedule.Cron, err)
		}
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("invalid schedule.timezone %q: %w", c.Schedule.Timezone, err)
		}
	}
	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.ToAddr == "") {
		return fmt.Errorf("email enabled but smtp_host or to_address is empty")
	}
	return nil
}
