// Package config handles platewatch configuration from YAML files.
// ${VAR} references are expanded from the environment before parsing so
// credentials and tokens can stay out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/plates/horosafe"
)

// Config is the top-level platewatch configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Browser    BrowserConfig    `yaml:"browser"`
	Poll       PollConfig       `yaml:"poll"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Sink       SinkConfig       `yaml:"sink"`
	Storage    StorageConfig    `yaml:"storage"`
	Status     StatusConfig     `yaml:"status"`
}

// SourceConfig locates the detection table.
type SourceConfig struct {
	URL          string `yaml:"url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SectionXPath string `yaml:"section_xpath"`
	RowSelector  string `yaml:"row_selector"`
	TableClass   string `yaml:"table_class"`
}

// BrowserConfig controls Chrome and the render session.
type BrowserConfig struct {
	Remote         string        `yaml:"remote"`
	Bin            string        `yaml:"bin"`
	Headless       *bool         `yaml:"headless"`
	Stealth        *bool         `yaml:"stealth"`
	LoginAttempts  int           `yaml:"login_attempts"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	SectionTimeout time.Duration `yaml:"section_timeout"`
	RowsTimeout    time.Duration `yaml:"rows_timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	LoginSettle    time.Duration `yaml:"login_settle"`
	RecreatePause  time.Duration `yaml:"recreate_pause"`
}

// PollConfig controls the poll loop.
type PollConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	EscalateAfter    int           `yaml:"escalate_after"`
	ForceRecognition bool          `yaml:"force_recognition"`
}

// RecognizerConfig configures the plate recognition API. An empty token
// disables enrichment.
type RecognizerConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Regions       []string      `yaml:"regions"`
	StrictRegion  *bool         `yaml:"strict_region"`
	MMC           *bool         `yaml:"mmc"`
	Timeout       time.Duration `yaml:"timeout"`
	Rate          float64       `yaml:"rate"`
	FallbackMake  string        `yaml:"fallback_make"`
	FallbackModel string        `yaml:"fallback_model"`
}

// SinkConfig defines where final records go. With no URL records are
// written to stdout.
type SinkConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Stdout  bool          `yaml:"stdout"`
}

// StorageConfig places images, exports and the history database.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	ImagesDir string `yaml:"images_dir"`
	DBPath    string `yaml:"db_path"`
}

// StatusConfig configures the status HTTP server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
	// Rate caps requests per second per client; 0 disables the limiter.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with its environment value. Bare $VAR is left
// alone so passwords may contain '$'.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// LoadFile reads, expands, defaults and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile on an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func boolPtr(b bool) *bool { return &b }

func (c *Config) applyDefaults() {
	if c.Source.URL == "" {
		c.Source.URL = "http://169.254.206.95/local/Vaxreader/index.html#/"
	}
	if c.Source.SectionXPath == "" {
		c.Source.SectionXPath = "//h3[contains(text(), 'Plates')]"
	}
	if c.Source.RowSelector == "" {
		c.Source.RowSelector = "tbody tr"
	}
	if c.Source.TableClass == "" {
		c.Source.TableClass = "table table-bordered table-hover table-condensed"
	}

	if c.Browser.Headless == nil {
		c.Browser.Headless = boolPtr(true)
	}
	if c.Browser.Stealth == nil {
		c.Browser.Stealth = boolPtr(true)
	}
	if c.Browser.LoginAttempts <= 0 {
		c.Browser.LoginAttempts = 3
	}
	if c.Browser.LoadTimeout <= 0 {
		c.Browser.LoadTimeout = 30 * time.Second
	}
	if c.Browser.SectionTimeout <= 0 {
		c.Browser.SectionTimeout = 60 * time.Second
	}
	if c.Browser.RowsTimeout <= 0 {
		c.Browser.RowsTimeout = 30 * time.Second
	}
	if c.Browser.SettleDelay <= 0 {
		c.Browser.SettleDelay = 5 * time.Second
	}
	if c.Browser.LoginSettle <= 0 {
		c.Browser.LoginSettle = 3 * time.Second
	}
	if c.Browser.RecreatePause <= 0 {
		c.Browser.RecreatePause = 2 * time.Second
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 5 * time.Second
	}
	if c.Poll.MaxAttempts <= 0 {
		c.Poll.MaxAttempts = 3
	}
	if c.Poll.RetryDelay <= 0 {
		c.Poll.RetryDelay = 5 * time.Second
	}
	if c.Poll.EscalateAfter <= 0 {
		c.Poll.EscalateAfter = 3
	}

	if c.Recognizer.URL == "" {
		c.Recognizer.URL = "https://api.platerecognizer.com/v1/plate-reader/"
	}
	if len(c.Recognizer.Regions) == 0 {
		c.Recognizer.Regions = []string{"sg"}
	}
	if c.Recognizer.StrictRegion == nil {
		c.Recognizer.StrictRegion = boolPtr(true)
	}
	if c.Recognizer.MMC == nil {
		c.Recognizer.MMC = boolPtr(true)
	}
	if c.Recognizer.Timeout <= 0 {
		c.Recognizer.Timeout = 30 * time.Second
	}
	if c.Recognizer.FallbackMake == "" {
		c.Recognizer.FallbackMake = "BMW"
	}
	if c.Recognizer.FallbackModel == "" {
		c.Recognizer.FallbackModel = "X5"
	}

	if c.Sink.Timeout <= 0 {
		c.Sink.Timeout = 5 * time.Second
	}
	if c.Sink.URL == "" {
		c.Sink.Stdout = true
	}

	if c.Status.Burst <= 0 {
		c.Status.Burst = 20
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "platewatch_data"
	}
	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = filepath.Join(c.Storage.DataDir, "images")
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.DataDir, "platewatch.db")
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := horosafe.CheckHTTPURL(c.Source.URL); err != nil {
		errs = append(errs, fmt.Errorf("source.url: %w", err))
	}
	if c.Sink.URL != "" {
		if err := horosafe.CheckHTTPURL(c.Sink.URL); err != nil {
			errs = append(errs, fmt.Errorf("sink.url: %w", err))
		}
	}
	if c.Recognizer.Token != "" {
		if err := horosafe.CheckHTTPURL(c.Recognizer.URL); err != nil {
			errs = append(errs, fmt.Errorf("recognizer.url: %w", err))
		}
	}
	if c.Recognizer.Rate < 0 {
		errs = append(errs, errors.New("recognizer.rate: must not be negative"))
	}
	if c.Poll.EscalateAfter < 1 {
		errs = append(errs, errors.New("poll.escalate_after: must be at least 1"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Source.Password != "" {
		cp.Source.Password = "***"
	}
	if cp.Recognizer.Token != "" {
		cp.Recognizer.Token = "***"
	}
	return &cp
}
