package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"schedulr/internal/model"
)

// SourceConfig describes one member calendar subscribed over ICS.
type SourceConfig struct {
	// ID is an internal identifier used for storage and logging.
	ID string `yaml:"id" json:"id"`
	// Name overrides the calendar name announced by the feed (X-WR-CALNAME).
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// OwnerID is the member whose calendar this is.
	OwnerID string `yaml:"owner_id" json:"owner_id"`
	// GroupID is set when the calendar belongs to a group; empty for personal calendars.
	GroupID string `yaml:"group_id" json:"group_id"`
	// EventType is "personal" or "group".
	EventType string `yaml:"event_type" json:"event_type"`
}

// GroupConfig lists the members of one group.
type GroupConfig struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Members []string `yaml:"members" json:"members"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone whose calendar days are used for
	// all-day matching and week grids (e.g. "Europe/London").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron schedule of the ICS refresher.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound the window ICS recurrences are
	// expanded into, relative to the refresh time.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ViewerID is used when a request does not identify its viewer.
	ViewerID string `yaml:"viewer_id" json:"viewer_id"`

	// DatabaseURL, when set, stores events in Postgres instead of memory.
	DatabaseURL string `yaml:"database_url,omitempty" json:"-"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Filters are the default reconciliation filters; requests may override.
	Filters model.Filters `yaml:"filters" json:"filters"`

	Groups  []GroupConfig  `yaml:"groups" json:"groups"`
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultWeekStart   = "monday"
	defaultRefreshCron = "*/15 * * * *"
	defaultHorizonDays = 60
	defaultBackfill    = 1
	defaultLogLevel    = "info"
	defaultCacheDir    = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		WeekStart:    defaultWeekStart,
		RefreshCron:  defaultRefreshCron,
		HorizonDays:  defaultHorizonDays,
		BackfillDays: defaultBackfill,
		LogLevel:     defaultLogLevel,
		CacheDir:     defaultCacheDir,
		Filters:      model.DefaultFilters(),
		Groups:       []GroupConfig{},
		Sources:      []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Groups == nil {
		c.Groups = []GroupConfig{}
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}

	// Sources without an ID fall back to their name, then URL.
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ID == "" {
			if s.Name != "" {
				s.ID = s.Name
			} else {
				s.ID = s.URL
			}
		}
		s.EventType = model.ParseEventType(s.EventType).String()
	}
}

// ApplyEnv overrides file values with SCHEDULR_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SCHEDULR_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SCHEDULR_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("SCHEDULR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// WeekStartDay returns the configured first day of the week.
func (c *Config) WeekStartDay() time.Weekday {
	if strings.EqualFold(c.WeekStart, "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Group returns the group with the given ID.
func (c *Config) Group(id string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600) and
// returned. Otherwise the file is decoded and normalized. Environment
// overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	// Decode over the defaults so keys missing from older files keep
	// their default values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) when needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedulr-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
