package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	CacheDriverSQLite = "sqlite"
	CacheDriverBadger = "badger"
	CacheDriverMemory = "memory"
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

type Config struct {
	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string

	// Database (optional direct Postgres connection; PostgREST is used otherwise)
	DatabaseURL string

	// Job cards
	JobCardPrefix       string
	RecentIDWindow      int
	RemoteLoadTimeout   time.Duration
	RemoteInsertTimeout time.Duration
	IDQueryTimeout      time.Duration

	// Local cache
	CacheDriver string
	CachePath   string

	// Session
	InactivityWarning time.Duration
	InactivityLogout  time.Duration
	Timezone          string

	// Server
	Port        string
	Environment string
	BaseURL     string
}

// Load reads configuration from the environment, optionally overlaid by the
// file named in CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		SupabaseURL:            v.GetString("SUPABASE_URL"),
		SupabasePublishableKey: v.GetString("SUPABASE_PUBLISHABLE_KEY"),
		SupabaseJWTSecret:      v.GetString("SUPABASE_JWT_SECRET"),
		SupabaseStorageBucket:  v.GetString("SUPABASE_STORAGE_BUCKET"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		JobCardPrefix:       strings.ToUpper(v.GetString("JOBCARD_PREFIX")),
		RecentIDWindow:      v.GetInt("JOBCARD_RECENT_WINDOW"),
		RemoteLoadTimeout:   v.GetDuration("REMOTE_LOAD_TIMEOUT"),
		RemoteInsertTimeout: v.GetDuration("REMOTE_INSERT_TIMEOUT"),
		IDQueryTimeout:      v.GetDuration("ID_QUERY_TIMEOUT"),

		CacheDriver: strings.ToLower(v.GetString("CACHE_DRIVER")),
		CachePath:   v.GetString("CACHE_PATH"),

		InactivityWarning: v.GetDuration("INACTIVITY_WARNING"),
		InactivityLogout:  v.GetDuration("INACTIVITY_LOGOUT"),
		Timezone:          v.GetString("TIMEZONE"),

		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		BaseURL:     v.GetString("BASE_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SUPABASE_STORAGE_BUCKET", "job-card-files")
	v.SetDefault("JOBCARD_PREFIX", "JC")
	v.SetDefault("JOBCARD_RECENT_WINDOW", 100)
	v.SetDefault("REMOTE_LOAD_TIMEOUT", 10*time.Second)
	v.SetDefault("REMOTE_INSERT_TIMEOUT", 10*time.Second)
	v.SetDefault("ID_QUERY_TIMEOUT", 5*time.Second)
	v.SetDefault("CACHE_DRIVER", CacheDriverSQLite)
	v.SetDefault("CACHE_PATH", "jobcard-cache.db")
	v.SetDefault("INACTIVITY_WARNING", 4*time.Minute)
	v.SetDefault("INACTIVITY_LOGOUT", 5*time.Minute)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
}

func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return errors.New("SUPABASE_URL is required")
	}
	if c.SupabasePublishableKey == "" {
		return errors.New("SUPABASE_PUBLISHABLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return errors.New("SUPABASE_JWT_SECRET is required")
	}
	if !prefixPattern.MatchString(c.JobCardPrefix) {
		return fmt.Errorf("JOBCARD_PREFIX %q must be upper-case letters or digits", c.JobCardPrefix)
	}
	if c.RecentIDWindow <= 0 {
		return errors.New("JOBCARD_RECENT_WINDOW must be positive")
	}
	if c.InactivityWarning <= 0 || c.InactivityLogout <= 0 {
		return errors.New("inactivity durations must be positive")
	}
	if c.InactivityWarning >= c.InactivityLogout {
		return fmt.Errorf("INACTIVITY_WARNING (%s) must be shorter than INACTIVITY_LOGOUT (%s)",
			c.InactivityWarning, c.InactivityLogout)
	}
	switch c.CacheDriver {
	case CacheDriverSQLite, CacheDriverBadger, CacheDriverMemory:
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the viewer's time zone, used to present stored UTC timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
