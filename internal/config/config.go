package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"calimport/internal/model"
)

// SubscriptionConfig describes a remote feed imported on the refresh
// schedule.
type SubscriptionConfig struct {
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// URL is the feed endpoint.
	URL string `yaml:"url" json:"url"`
	// Format of the feed; defaults to the top-level format.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	// Calendar is the destination calendar; defaults to the top-level one.
	Calendar string `yaml:"calendar,omitempty" json:"calendar,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Format is the default source format: ical, xcal or jcal.
	Format string `yaml:"format" json:"format"`
	// Calendar is the default destination calendar.
	Calendar string `yaml:"calendar" json:"calendar"`
	// Database is the SQLite file objects are stored in.
	Database string `yaml:"database" json:"database"`

	// Errors is the per-object error policy: "fail" or "continue".
	Errors string `yaml:"errors" json:"errors"`
	// Validation is "none", "skip" or "fail".
	Validation string `yaml:"validation" json:"validation"`
	// Supersede replaces objects whose UID is already stored.
	Supersede bool `yaml:"supersede" json:"supersede"`

	// ChunkSize is the read size for XML sources, in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// SpoolMemBytes is how much of a non-seekable source is kept in memory
	// before spooling to disk.
	SpoolMemBytes int `yaml:"spool_mem_bytes" json:"spool_mem_bytes"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address of the import API.
	Listen string `yaml:"listen" json:"listen"`
	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Refresh is a cron-style schedule (e.g. "*/15 * * * *") for
	// re-importing subscriptions.
	Refresh string `yaml:"refresh" json:"refresh"`
	// CacheDir holds downloaded feed bodies and their HTTP validators.
	CacheDir      string               `yaml:"cache_dir" json:"cache_dir"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultRefresh  = "*/15 * * * *"
	defaultCalendar = "default"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:        string(model.FormatICal),
		Calendar:      defaultCalendar,
		Database:      "./var/calimport.db",
		Errors:        model.ErrorsContinue.String(),
		Validation:    model.ValidateSkip.String(),
		ChunkSize:     64 * 1024,
		SpoolMemBytes: 1 << 20,
		LogLevel:      "info",
		Listen:        defaultListen,
		Refresh:       defaultRefresh,
		CacheDir:      "./var/feed-cache",
		Subscriptions: []SubscriptionConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Calendar == "" {
		c.Calendar = d.Calendar
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.Errors == "" {
		c.Errors = d.Errors
	}
	if c.Validation == "" {
		c.Validation = d.Validation
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.SpoolMemBytes <= 0 {
		c.SpoolMemBytes = d.SpoolMemBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Refresh == "" {
		c.Refresh = d.Refresh
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
	for i := range c.Subscriptions {
		s := &c.Subscriptions[i]
		if s.Format == "" {
			s.Format = c.Format
		}
		if s.Calendar == "" {
			s.Calendar = c.Calendar
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("sub-%d", i+1)
		}
	}
}

// Validate reports values that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := model.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := model.ParseErrorPolicy(c.Errors); err != nil {
		errs = append(errs, err)
	}
	if _, err := model.ParseValidationMode(c.Validation); err != nil {
		errs = append(errs, err)
	}
	for _, s := range c.Subscriptions {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("subscription %s: url is empty", s.ID))
		}
		if _, err := model.ParseFormat(s.Format); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", s.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ImportOptions returns the import options the config describes, aimed at
// calendar. An empty calendar selects the default one.
func (c *Config) ImportOptions(format, calendar string) (model.ImportOptions, error) {
	if format == "" {
		format = c.Format
	}
	if calendar == "" {
		calendar = c.Calendar
	}
	f, err := model.ParseFormat(format)
	if err != nil {
		return model.ImportOptions{}, err
	}
	policy, err := model.ParseErrorPolicy(c.Errors)
	if err != nil {
		return model.ImportOptions{}, err
	}
	mode, err := model.ParseValidationMode(c.Validation)
	if err != nil {
		return model.ImportOptions{}, err
	}
	return model.ImportOptions{
		Format:     f,
		Calendar:   calendar,
		Supersede:  c.Supersede,
		Errors:     policy,
		Validation: mode,
	}, nil
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

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".calimport-config-*.tmp")
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
