package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings. Values come from defaults, an
// optional YAML file, then environment variables, later sources win.
type Config struct {
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"log_level"`

	StorageDir     string `yaml:"storage_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`

	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	DefaultTimeout        time.Duration `yaml:"default_timeout"`
	SessionTimeout        time.Duration `yaml:"session_timeout"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	QueueSize             int           `yaml:"queue_size"`

	EncryptSessions  bool   `yaml:"encrypt_sessions"`
	EncryptionKey    string `yaml:"-"`
	EnableValidation bool   `yaml:"enable_validation"`
	EnableMedia      bool   `yaml:"enable_media"`
	SaveScreenshots  bool   `yaml:"save_screenshots"`

	Validator ValidatorConfig `yaml:"validator"`
	Browser   BrowserConfig   `yaml:"browser"`
}

// ValidatorConfig carries the change detection thresholds.
type ValidatorConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	VisualThreshold float64       `yaml:"visual_threshold"`
	DOMThreshold    float64       `yaml:"dom_threshold"`
	// PhashDistance is the hamming distance between perceptual hashes
	// above which two screenshots count as visually different.
	PhashDistance int `yaml:"phash_distance"`
}

// BrowserConfig selects and tunes the browser engine.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	DriverPort     int    `yaml:"driver_port"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Mode:                  "standard",
		LogLevel:              "info",
		StorageDir:            "./spectra_data",
		ScreenshotsDir:        "./spectra_data/screenshots",
		MaxConcurrentSessions: 10,
		DefaultTimeout:        5 * time.Minute,
		SessionTimeout:        time.Hour,
		CleanupInterval:       5 * time.Minute,
		QueueSize:             64,
		EncryptSessions:       true,
		EnableValidation:      true,
		EnableMedia:           false,
		SaveScreenshots:       true,
		Validator: ValidatorConfig{
			SampleInterval:  250 * time.Millisecond,
			Timeout:         15 * time.Second,
			VisualThreshold: 0.85,
			DOMThreshold:    0.95,
			PhashDistance:   5,
		},
		Browser: BrowserConfig{
			Headless:       false,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			DriverPort:     9515,
		},
	}
}

// fileDuration accepts "5s" style yaml scalars, which do not decode
// directly into time.Duration.
type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = fileDuration(parsed)
	return nil
}

// fileConfig mirrors Config for yaml decoding. Booleans are pointers
// so an explicit false in the file survives the defaults merge.
type fileConfig struct {
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"log_level"`

	StorageDir     string `yaml:"storage_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`

	MaxConcurrentSessions int          `yaml:"max_concurrent_sessions"`
	DefaultTimeout        fileDuration `yaml:"default_timeout"`
	SessionTimeout        fileDuration `yaml:"session_timeout"`
	CleanupInterval       fileDuration `yaml:"cleanup_interval"`
	QueueSize             int          `yaml:"queue_size"`

	EncryptSessions  *bool `yaml:"encrypt_sessions"`
	EnableValidation *bool `yaml:"enable_validation"`
	EnableMedia      *bool `yaml:"enable_media"`
	SaveScreenshots  *bool `yaml:"save_screenshots"`

	Validator struct {
		SampleInterval  fileDuration `yaml:"sample_interval"`
		Timeout         fileDuration `yaml:"timeout"`
		VisualThreshold float64      `yaml:"visual_threshold"`
		DOMThreshold    float64      `yaml:"dom_threshold"`
		PhashDistance   int          `yaml:"phash_distance"`
	} `yaml:"validator"`

	Browser struct {
		Headless       *bool  `yaml:"headless"`
		UserAgent      string `yaml:"user_agent"`
		ViewportWidth  int    `yaml:"viewport_width"`
		ViewportHeight int    `yaml:"viewport_height"`
		DriverPort     int    `yaml:"driver_port"`
	} `yaml:"browser"`
}

func (f fileConfig) toConfig() Config {
	return Config{
		Mode:                  f.Mode,
		LogLevel:              f.LogLevel,
		StorageDir:            f.StorageDir,
		ScreenshotsDir:        f.ScreenshotsDir,
		MaxConcurrentSessions: f.MaxConcurrentSessions,
		DefaultTimeout:        time.Duration(f.DefaultTimeout),
		SessionTimeout:        time.Duration(f.SessionTimeout),
		CleanupInterval:       time.Duration(f.CleanupInterval),
		QueueSize:             f.QueueSize,
		Validator: ValidatorConfig{
			SampleInterval:  time.Duration(f.Validator.SampleInterval),
			Timeout:         time.Duration(f.Validator.Timeout),
			VisualThreshold: f.Validator.VisualThreshold,
			DOMThreshold:    f.Validator.DOMThreshold,
			PhashDistance:   f.Validator.PhashDistance,
		},
		Browser: BrowserConfig{
			UserAgent:      f.Browser.UserAgent,
			ViewportWidth:  f.Browser.ViewportWidth,
			ViewportHeight: f.Browser.ViewportHeight,
			DriverPort:     f.Browser.DriverPort,
		},
	}
}

// applyBools overrides merged defaults with booleans the file set
// explicitly.
func (f fileConfig) applyBools(cfg *Config) {
	if f.EncryptSessions != nil {
		cfg.EncryptSessions = *f.EncryptSessions
	}
	if f.EnableValidation != nil {
		cfg.EnableValidation = *f.EnableValidation
	}
	if f.EnableMedia != nil {
		cfg.EnableMedia = *f.EnableMedia
	}
	if f.SaveScreenshots != nil {
		cfg.SaveScreenshots = *f.SaveScreenshots
	}
	if f.Browser.Headless != nil {
		cfg.Browser.Headless = *f.Browser.Headless
	}
}

// Load builds the configuration from the optional YAML file at path
// and the process environment.
func Load(path string) (Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	var file fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := file.toConfig()
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("failed to apply defaults: %w", err)
	}
	file.applyBools(&cfg)

	applyEnv(&cfg)

	if cfg.EncryptSessions && cfg.EncryptionKey == "" {
		return Config{}, fmt.Errorf("session encryption enabled but SPECTRA_ENCRYPTION_KEY is not set")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPECTRA_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("SPECTRA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SPECTRA_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("SPECTRA_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("SPECTRA_HEADLESS"); v != "" {
		cfg.Browser.Headless = v == "1" || v == "true"
	}
	if v := os.Getenv("SPECTRA_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentSessions = n
		}
	}
	if v := os.Getenv("SPECTRA_SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTimeout = d
		}
	}
}
