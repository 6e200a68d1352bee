// Package cookies persists browser cookies between runs so that consent
// banners accepted once stay accepted.
package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/config"
)

// ErrNoCookies is returned by Load when nothing was captured yet.
var ErrNoCookies = errors.New("no stored cookies")

// Store handles storage of captured session cookies
type Store struct {
	path string
}

// Stored represents the persisted cookie data
type Stored struct {
	Site       string           `json:"site"`
	Cookies    []browser.Cookie `json:"cookies"`
	CapturedAt time.Time        `json:"captured_at"`
	// ExpiresAt is the earliest expiry among persistent cookies, zero when
	// all of them are session cookies.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewStore creates a cookie store at the given path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the default path for cookie storage
func DefaultPath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

func (s *Store) Path() string { return s.path }

// Save persists cookies captured on site.
func (s *Store) Save(site string, cookies []browser.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}

	var earliest time.Time
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}

	stored := Stored{
		Site:       site,
		Cookies:    cookies,
		CapturedAt: time.Now(),
		ExpiresAt:  earliest,
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load retrieves cookies from disk
func (s *Store) Load() (*Stored, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCookies
	}
	if err != nil {
		return nil, err
	}

	var stored Stored
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &stored, nil
}

// Valid reports whether stored cookies exist and none has expired.
func (s *Store) Valid() bool {
	stored, err := s.Load()
	if err != nil || len(stored.Cookies) == 0 {
		return false
	}
	return stored.ExpiresAt.IsZero() || time.Now().Before(stored.ExpiresAt)
}

// Clear removes stored cookies. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ForHost returns the unexpired stored cookies whose domain covers host.
func (s *Store) ForHost(host string) ([]browser.Cookie, error) {
	stored, err := s.Load()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []browser.Cookie
	for _, c := range stored.Cookies {
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			continue
		}
		if domainMatches(c.Domain, host) {
			out = append(out, c)
		}
	}
	return out, nil
}

// domainMatches follows cookie domain matching: ".example.com" and
// "example.com" both cover example.com and its subdomains.
func domainMatches(domain, host string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	host = strings.ToLower(host)
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return domain != "" && (host == domain || strings.HasSuffix(host, "."+domain))
}
