// Package config loads and validates application configuration from a
// YAML file, environment variables and CLI flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config is the root of the application configuration tree.
type Config struct {
	Terakoya   TerakoyaConfig   `mapstructure:"terakoya" yaml:"terakoya"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

// TerakoyaConfig holds the target site, credentials and invoice defaults.
type TerakoyaConfig struct {
	BaseURL               string `mapstructure:"base_url" yaml:"base_url"`
	Email                 string `mapstructure:"email" yaml:"email"`
	Password              Secret `mapstructure:"password" yaml:"-"`
	LessonDurationMin     int    `mapstructure:"lesson_duration_min" yaml:"lesson_duration_min"`
	LessonUnitPrice       int    `mapstructure:"lesson_unit_price" yaml:"lesson_unit_price"`
	AutoAddSupportLessons bool   `mapstructure:"auto_add_support_lessons" yaml:"auto_add_support_lessons"`
}

// BrowserConfig controls how the Chrome instance is launched and how long
// page interactions may take.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	DownloadDir       string        `mapstructure:"download_dir" yaml:"download_dir"`
}

// ExtractionConfig selects and tunes the lesson extraction strategy.
type ExtractionConfig struct {
	UseAI             bool    `mapstructure:"use_ai" yaml:"use_ai"`
	APIKey            Secret  `mapstructure:"api_key" yaml:"-"`
	Model             string  `mapstructure:"model" yaml:"model"`
	BatchSize         int     `mapstructure:"batch_size" yaml:"batch_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// LoggerConfig configures the zap logger and the rotated log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// OutputConfig names the directory that receives logs, screenshots and
// report files.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogsDir returns the directory for log files.
func (o OutputConfig) LogsDir() string { return filepath.Join(o.Dir, "terakoya_logs") }

// ScreenshotsDir returns the directory for failure screenshots.
func (o OutputConfig) ScreenshotsDir() string { return filepath.Join(o.Dir, "terakoya_screenshots") }

// DataDir returns the directory for report files.
func (o OutputConfig) DataDir() string { return filepath.Join(o.Dir, "terakoya_data") }

// DatabaseConfig points at the optional Postgres instance that records
// run history. Empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static, so this only fires on a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults installs the default value for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Terakoya --
	v.SetDefault("terakoya.base_url", "https://terakoya.sejuku.net/")
	v.SetDefault("terakoya.lesson_duration_min", 60)
	v.SetDefault("terakoya.lesson_unit_price", 2300)
	v.SetDefault("terakoya.auto_add_support_lessons", false)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Extraction --
	v.SetDefault("extraction.use_ai", true)
	v.SetDefault("extraction.model", "gemini-2.5-flash")
	v.SetDefault("extraction.batch_size", 10)
	v.SetDefault("extraction.requests_per_second", 0.5)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "terakoya-invoicer")
	v.SetDefault("logger.log_file", "output/terakoya_logs/invoicer.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Output --
	v.SetDefault("output.dir", "output")
}

// NewConfigFromViper builds and validates a Config from a viper instance
// that already has its file and env sources wired up.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Credentials come from the environment under their historical names,
	// never from the YAML file.
	_ = v.BindEnv("terakoya.email", "TERAKOYA_EMAIL")
	_ = v.BindEnv("terakoya.password", "TERAKOYA_PASSWORD")
	_ = v.BindEnv("extraction.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "TERAKOYA_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Belt and braces: pick the secrets up directly if the env binding
	// did not.
	if cfg.Terakoya.Password == "" {
		cfg.Terakoya.Password = Secret(os.Getenv("TERAKOYA_PASSWORD"))
	}
	if cfg.Extraction.APIKey == "" {
		cfg.Extraction.APIKey = Secret(os.Getenv("GEMINI_API_KEY"))
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("expanding configured paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves ~ in every configured filesystem location.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Output.Dir, &c.Logger.LogFile, &c.Browser.DownloadDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the whole configuration and reports every problem at
// once rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if err := validateBaseURL(c.Terakoya.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Terakoya.Email != "" && !strings.Contains(c.Terakoya.Email, "@") {
		errs = append(errs, errors.New("terakoya.email must be a valid email address"))
	}
	if pwd := c.Terakoya.Password.Reveal(); pwd != "" && utf8.RuneCountInString(pwd) < 8 {
		errs = append(errs, errors.New("terakoya.password must be at least 8 characters"))
	}
	if c.Terakoya.LessonDurationMin <= 0 {
		errs = append(errs, errors.New("terakoya.lesson_duration_min must be positive"))
	}
	if c.Terakoya.LessonUnitPrice <= 0 {
		errs = append(errs, errors.New("terakoya.lesson_unit_price must be positive"))
	}

	if c.Browser.WindowWidth < 800 || c.Browser.WindowHeight < 600 {
		errs = append(errs, fmt.Errorf("browser window too small (minimum 800x600), got %dx%d",
			c.Browser.WindowWidth, c.Browser.WindowHeight))
	}
	if c.Browser.Timeout <= 0 {
		errs = append(errs, errors.New("browser.timeout must be positive"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("browser.navigation_timeout must be positive"))
	}
	if c.Browser.DownloadDir != "" {
		if info, err := os.Stat(c.Browser.DownloadDir); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Errorf("browser.download_dir must be a directory, got %q", c.Browser.DownloadDir))
		}
	}

	if c.Extraction.BatchSize <= 0 {
		errs = append(errs, errors.New("extraction.batch_size must be positive"))
	}
	if c.Extraction.UseAI && c.Extraction.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("extraction.requests_per_second must be positive"))
	}

	if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, fmt.Errorf("logger.level %q is not a valid level", c.Logger.Level))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("terakoya.base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("terakoya.base_url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("terakoya.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("terakoya.base_url must have a valid domain")
	}
	return nil
}

// EnsureDirectories creates the output tree the run writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Output.LogsDir(),
		c.Output.ScreenshotsDir(),
		c.Output.DataDir(),
	}
	if dir := filepath.Dir(c.Logger.LogFile); c.Logger.LogFile != "" && dir != "." {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}
