package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // business hours must resolve on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id" validate:"required"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// BusinessHoursConfig is the bookable part of each day.
type BusinessHoursConfig struct {
	StartHour int `yaml:"start_hour" json:"start_hour" validate:"gte=0,lte=23"`
	// EndHour is exclusive; 24 means midnight at the end of the day.
	EndHour            int      `yaml:"end_hour" json:"end_hour" validate:"gtfield=StartHour,lte=24"`
	ExcludedWeekdays   []string `yaml:"excluded_weekdays" json:"excluded_weekdays" validate:"dive,weekday"`
	GranularityMinutes int      `yaml:"granularity_minutes" json:"granularity_minutes" validate:"gt=0,lte=1440"`
}

// SlotsConfig holds request defaults for the API and CLI.
type SlotsConfig struct {
	DurationMinutes int `yaml:"duration_minutes" json:"duration_minutes" validate:"gt=0,lte=1440"`
	Count           int `yaml:"count" json:"count" validate:"gt=0,lte=500"`
	HorizonDays     int `yaml:"horizon_days" json:"horizon_days" validate:"gt=0,lte=366"`
}

type GatewayConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	// StaleFallback serves the last cached feed body when a fetch fails.
	StaleFallback          bool `yaml:"stale_fallback" json:"stale_fallback"`
	MaxOccurrencesPerEvent int  `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event" validate:"gte=0"`
	IgnoreAllDay           bool `yaml:"ignore_all_day" json:"ignore_all_day"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=sqlite postgres"`
	DSN     string `yaml:"dsn" json:"dsn" validate:"required"`
}

// RedisConfig enables a shared booking lock. An empty Addr keeps the lock
// in-process.
type RedisConfig struct {
	Addr           string `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`
	Password       string `yaml:"password" json:"password"`
	DB             int    `yaml:"db" json:"db" validate:"gte=0"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds" validate:"gt=0"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone business hours are expressed in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// Environment selects the log format: "development" is human readable,
	// anything else is JSON.
	Environment string `yaml:"environment" json:"environment" validate:"oneof=development production test"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`

	// CacheDir holds the conditional-GET cache of ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" validate:"required"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for warming the feed cache.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"cronspec"`

	BusinessHours BusinessHoursConfig `yaml:"business_hours" json:"business_hours"`
	Slots         SlotsConfig         `yaml:"slots" json:"slots"`
	Gateway       GatewayConfig       `yaml:"gateway" json:"gateway"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, ok := slots.ParseWeekday(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Asia/Seoul",
		Environment: "production",
		ICS:         []ICSConfig{},
		CacheDir:    "./var/ics-cache",
		RefreshCron: "*/15 * * * *",
		BusinessHours: BusinessHoursConfig{
			StartHour:          9,
			EndHour:            18,
			ExcludedWeekdays:   []string{"saturday", "sunday"},
			GranularityMinutes: 15,
		},
		Slots: SlotsConfig{
			DurationMinutes: 30,
			Count:           3,
			HorizonDays:     14,
		},
		Gateway: GatewayConfig{
			TimeoutSeconds:         10,
			MaxOccurrencesPerEvent: 5000,
		},
		Database: DatabaseConfig{
			Backend: DatabaseSQLite,
			DSN:     "./var/slotcal.db",
		},
		Redis: RedisConfig{
			LockTTLSeconds: 10,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}

	// An all-zero section means it was omitted, not "open from midnight to
	// midnight".
	if c.BusinessHours.StartHour == 0 && c.BusinessHours.EndHour == 0 {
		c.BusinessHours.StartHour = def.BusinessHours.StartHour
		c.BusinessHours.EndHour = def.BusinessHours.EndHour
	}
	if c.BusinessHours.ExcludedWeekdays == nil {
		c.BusinessHours.ExcludedWeekdays = def.BusinessHours.ExcludedWeekdays
	}
	if c.BusinessHours.GranularityMinutes <= 0 {
		c.BusinessHours.GranularityMinutes = def.BusinessHours.GranularityMinutes
	}

	if c.Slots.DurationMinutes <= 0 {
		c.Slots.DurationMinutes = def.Slots.DurationMinutes
	}
	if c.Slots.Count <= 0 {
		c.Slots.Count = def.Slots.Count
	}
	if c.Slots.HorizonDays <= 0 {
		c.Slots.HorizonDays = def.Slots.HorizonDays
	}

	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = def.Gateway.TimeoutSeconds
	}
	if c.Gateway.MaxOccurrencesPerEvent <= 0 {
		c.Gateway.MaxOccurrencesPerEvent = def.Gateway.MaxOccurrencesPerEvent
	}

	if c.Database.Backend == "" {
		c.Database.Backend = def.Database.Backend
	}
	if c.Database.DSN == "" && c.Database.Backend == DatabaseSQLite {
		c.Database.DSN = def.Database.DSN
	}
	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = def.Redis.LockTTLSeconds
	}
}

// Validate checks field constraints. Call after Normalize.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.ICS))
	for _, src := range c.ICS {
		if seen[src.ID] {
			return fmt.Errorf("invalid config: duplicate ics id %q", src.ID)
		}
		seen[src.ID] = true
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Policy builds the generator policy from BusinessHours.
func (c *Config) Policy() (slots.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return slots.Policy{}, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	excluded := make([]time.Weekday, 0, len(c.BusinessHours.ExcludedWeekdays))
	for _, name := range c.BusinessHours.ExcludedWeekdays {
		wd, ok := slots.ParseWeekday(name)
		if !ok {
			return slots.Policy{}, fmt.Errorf("unknown weekday %q", name)
		}
		excluded = append(excluded, wd)
	}
	return slots.Policy{
		StartHour:          c.BusinessHours.StartHour,
		EndHour:            c.BusinessHours.EndHour,
		ExcludedWeekdays:   excluded,
		GranularityMinutes: c.BusinessHours.GranularityMinutes,
		Location:           loc,
	}, nil
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
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
//   - normalize defaults and validate
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".slotcal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
