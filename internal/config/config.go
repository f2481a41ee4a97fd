package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source whose events are
// periodically imported into the local store.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// WorkingHoursConfig bounds slot suggestions. Values are "HH:MM".
type WorkingHoursConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// MatcherConfig tunes event disambiguation.
type MatcherConfig struct {
	// Fuzzy selects the title similarity: "positional" or "edit_distance".
	Fuzzy string `yaml:"fuzzy" json:"fuzzy"`
	// BatchConfidence is the classifier confidence above which a batch
	// confirmation is offered for small candidate sets.
	BatchConfidence float64 `yaml:"batch_confidence" json:"batch_confidence"`
	// MaxListed is the number of candidates shown in an ambiguity prompt.
	MaxListed int `yaml:"max_listed" json:"max_listed"`
	// MaxCandidates is the largest set that is still enumerated.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// SessionConfig selects where pending confirmations live.
type SessionConfig struct {
	// Driver is "memory" or "redis".
	Driver    string `yaml:"driver" json:"driver"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB   int    `yaml:"redis_db" json:"redis_db"`
}

// LLMConfig configures the optional chat-completion collaborator.
type LLMConfig struct {
	// Provider is "gemini" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone commands are interpreted in (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	WorkingHours WorkingHoursConfig `yaml:"working_hours" json:"working_hours"`

	// DefaultDurationMinutes is used when a create command names no end time.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	// SearchDays is how many days forward alternative slots are searched.
	SearchDays int `yaml:"search_days" json:"search_days"`

	// ConfirmationTTL expires pending confirmations.
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl" json:"confirmation_ttl"`

	// SweepCron is the cron schedule for purging expired confirmations.
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic subscription refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Matcher MatcherConfig `yaml:"matcher" json:"matcher"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Session SessionConfig `yaml:"session" json:"session"`
	LLM     LLMConfig     `yaml:"llm" json:"llm"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
	// ICSCacheDir holds the ETag/Last-Modified cache of subscriptions.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "Asia/Shanghai",
		LogLevel:               "info",
		WorkingHours:           WorkingHoursConfig{Start: "09:00", End: "18:00"},
		DefaultDurationMinutes: 60,
		SearchDays:             3,
		ConfirmationTTL:        5 * time.Minute,
		SweepCron:              "@every 1m",
		RefreshCron:            "*/15 * * * *",
		Matcher: MatcherConfig{
			Fuzzy:           "positional",
			BatchConfidence: 0.8,
			MaxListed:       5,
			MaxCandidates:   10,
		},
		Store:   StoreConfig{Driver: "memory", Path: "./var/nlcal.db"},
		Session: SessionConfig{Driver: "memory"},
		LLM: LLMConfig{
			Provider:  "none",
			Model:     "gemini-1.5-flash",
			APIKeyEnv: "GEMINI_API_KEY",
			Timeout:   15 * time.Second,
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: "./var/ics-cache",
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if _, err := ParseClock(c.WorkingHours.Start); err != nil {
		c.WorkingHours.Start = def.WorkingHours.Start
	}
	if _, err := ParseClock(c.WorkingHours.End); err != nil {
		c.WorkingHours.End = def.WorkingHours.End
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = def.DefaultDurationMinutes
	}
	if c.SearchDays <= 0 {
		c.SearchDays = def.SearchDays
	}
	if c.ConfirmationTTL <= 0 {
		c.ConfirmationTTL = def.ConfirmationTTL
	}
	if c.SweepCron == "" {
		c.SweepCron = def.SweepCron
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}

	switch c.Matcher.Fuzzy {
	case "positional", "edit_distance":
		// ok
	default:
		c.Matcher.Fuzzy = def.Matcher.Fuzzy
	}
	if c.Matcher.BatchConfidence <= 0 || c.Matcher.BatchConfidence > 1 {
		c.Matcher.BatchConfidence = def.Matcher.BatchConfidence
	}
	if c.Matcher.MaxListed <= 0 {
		c.Matcher.MaxListed = def.Matcher.MaxListed
	}
	if c.Matcher.MaxCandidates <= 0 {
		c.Matcher.MaxCandidates = def.Matcher.MaxCandidates
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		c.Session.Driver = def.Session.Driver
	}
	if c.Session.Driver == "redis" && c.Session.RedisAddr == "" {
		c.Session.RedisAddr = "127.0.0.1:6379"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WorkingWindow returns the working hours as offsets from midnight.
func (c *Config) WorkingWindow() (start, end time.Duration) {
	start, err := ParseClock(c.WorkingHours.Start)
	if err != nil {
		start = 9 * time.Hour
	}
	end, err = ParseClock(c.WorkingHours.End)
	if err != nil || end <= start {
		end = 18 * time.Hour
	}
	return start, end
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".nlcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
