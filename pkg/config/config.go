package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"vkharvest/pkg/models"
)

// Config holds all configuration options for the harvester
type Config struct {
	// VK API access
	VK VKConfig `yaml:"vk" json:"vk"`

	// Crawl loop settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Provider-side request cap
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output and checkpoint locations
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// VKConfig holds VK API specific configuration
type VKConfig struct {
	AccessToken string        `yaml:"access_token" json:"access_token"`
	APIVersion  string        `yaml:"api_version" json:"api_version"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
}

// CrawlConfig holds the crawl loop parameters
type CrawlConfig struct {
	Sources              []string      `yaml:"sources" json:"sources"`
	PageSize             int           `yaml:"page_size" json:"page_size"`
	RequestBurst         int           `yaml:"request_burst" json:"request_burst"`
	RequestSleepInterval time.Duration `yaml:"request_sleep_interval" json:"request_sleep_interval"`
	RateSleepInterval    time.Duration `yaml:"rate_sleep_interval" json:"rate_sleep_interval"`
	TransportSleep       time.Duration `yaml:"transport_sleep" json:"transport_sleep"`
	TransientSleep       time.Duration `yaml:"transient_sleep" json:"transient_sleep"`
	ProfileChunkSize     int           `yaml:"profile_chunk_size" json:"profile_chunk_size"`
	FetchProfiles        bool          `yaml:"fetch_profiles" json:"fetch_profiles"`
	AssumeOperator       bool          `yaml:"assume_operator" json:"assume_operator"`
}

// RateLimitConfig holds the client side request cap
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// StorageConfig holds output file locations
type StorageConfig struct {
	DataDirectory       string `yaml:"data_dir" json:"data_dir"`
	ProfilesFile        string `yaml:"profiles_file" json:"profiles_file"`
	PostsFile           string `yaml:"posts_file" json:"posts_file"`
	CheckpointDirectory string `yaml:"checkpoint_dir" json:"checkpoint_dir"`
}

// MetricsConfig holds the metrics listener configuration
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnCaptcha  bool `yaml:"on_captcha" json:"on_captcha"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		VK: VKConfig{
			APIVersion: "5.131",
			BaseURL:    "https://api.vk.com/method",
			Timeout:    30 * time.Second,
			UserAgent:  "vkharvest/1.0",
		},
		Crawl: CrawlConfig{
			Sources:              []string{},
			PageSize:             100,
			RequestBurst:         3,
			RequestSleepInterval: 1 * time.Second,
			RateSleepInterval:    300 * time.Second,
			TransportSleep:       300 * time.Second,
			TransientSleep:       5 * time.Second,
			ProfileChunkSize:     1000,
			FetchProfiles:        true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 3,
			Burst:             3,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			ProfilesFile:  "users.csv",
			PostsFile:     "posts.csv",
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnCaptcha:  true,
			OnComplete: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// VK access
	if token := os.Getenv("VK_ACCESS_TOKEN"); token != "" {
		c.VK.AccessToken = token
	}
	if version := os.Getenv("VK_API_VERSION"); version != "" {
		c.VK.APIVersion = version
	}

	// Sources, comma separated
	if sources := os.Getenv("VKHARVEST_SOURCES"); sources != "" {
		c.Crawl.Sources = SplitSources(sources)
	}

	// Storage
	if dataDir := os.Getenv("VKHARVEST_DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	// Request cap
	if rps := os.Getenv("VKHARVEST_REQUESTS_PER_SECOND"); rps != "" {
		var val float64
		if _, err := fmt.Sscanf(rps, "%g", &val); err != nil {
			return fmt.Errorf("invalid VKHARVEST_REQUESTS_PER_SECOND %q: %w", rps, err)
		}
		c.RateLimit.RequestsPerSecond = val
	}

	// Metrics
	if addr := os.Getenv("VKHARVEST_METRICS_ADDR"); addr != "" {
		c.Metrics.ListenAddr = addr
	}

	// Notifications
	if notifEnabled := os.Getenv("VKHARVEST_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	// Logging level
	if logLevel := os.Getenv("VKHARVEST_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".vkharvest.yaml",
		".vkharvest.yml",
		filepath.Join(home, ".config", "vkharvest", "config.yaml"),
		filepath.Join(home, ".config", "vkharvest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid.
// The access token is not checked here because it may come from a credential store.
func (c *Config) Validate() error {
	var errs []error

	if c.VK.APIVersion == "" {
		errs = append(errs, errors.New("API version is required"))
	}
	if c.VK.BaseURL == "" {
		errs = append(errs, errors.New("API base URL is required"))
	}
	if c.VK.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Crawl.PageSize <= 0 || c.Crawl.PageSize > 100 {
		errs = append(errs, errors.New("page size must be between 1 and 100"))
	}
	if c.Crawl.RequestBurst <= 0 {
		errs = append(errs, errors.New("request burst must be positive"))
	}
	if c.Crawl.RequestSleepInterval < 0 {
		errs = append(errs, errors.New("request sleep interval cannot be negative"))
	}
	if c.Crawl.RateSleepInterval < 0 {
		errs = append(errs, errors.New("rate sleep interval cannot be negative"))
	}
	if c.Crawl.TransportSleep < 0 {
		errs = append(errs, errors.New("transport sleep cannot be negative"))
	}
	if c.Crawl.TransientSleep < 0 {
		errs = append(errs, errors.New("transient sleep cannot be negative"))
	}
	if c.Crawl.ProfileChunkSize <= 0 || c.Crawl.ProfileChunkSize > 1000 {
		errs = append(errs, errors.New("profile chunk size must be between 1 and 1000"))
	}
	// Screen names are case-insensitive and "@durov" names the same wall as "durov"
	seen := make(map[string]string, len(c.Crawl.Sources))
	for _, src := range c.Crawl.Sources {
		id := strings.ToLower(models.SanitizeSourceID(src))
		if id == "" {
			errs = append(errs, errors.New("source identifiers cannot be blank"))
			continue
		}
		if first, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("duplicate source %q (same wall as %q)", src, first))
			continue
		}
		seen[id] = src
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("burst must be positive when a request cap is set"))
	}

	if c.Storage.DataDirectory == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.Storage.ProfilesFile == "" {
		errs = append(errs, errors.New("profiles file name is required"))
	}
	if c.Storage.PostsFile == "" {
		errs = append(errs, errors.New("posts file name is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ProfilesPath returns the full path of the profile CSV file
func (c *Config) ProfilesPath() string {
	return filepath.Join(c.Storage.DataDirectory, c.Storage.ProfilesFile)
}

// PostsPath returns the full path of the post CSV file
func (c *Config) PostsPath() string {
	return filepath.Join(c.Storage.DataDirectory, c.Storage.PostsFile)
}

// CheckpointPath returns the directory holding checkpoint files.
// It defaults to the data directory.
func (c *Config) CheckpointPath() string {
	if c.Storage.CheckpointDirectory != "" {
		return c.Storage.CheckpointDirectory
	}
	return c.Storage.DataDirectory
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Zero values are treated as unset.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if sources, ok := flags["sources"].([]string); ok && len(sources) > 0 {
		c.Crawl.Sources = sources
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Crawl.PageSize = pageSize
	}
	if rateSleep, ok := flags["rate-sleep"].(time.Duration); ok && rateSleep > 0 {
		c.Crawl.RateSleepInterval = rateSleep
	}
	if noProfiles, ok := flags["no-profiles"].(bool); ok && noProfiles {
		c.Crawl.FetchProfiles = false
	}
	if assume, ok := flags["assume-operator"].(bool); ok && assume {
		c.Crawl.AssumeOperator = true
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.ListenAddr = addr
	}
	if token, ok := flags["access-token"].(string); ok && token != "" {
		c.VK.AccessToken = token
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
	if notify, ok := flags["notify"].(bool); ok && notify {
		c.Notifications.Enabled = true
	}
}

// SplitSources parses a comma separated source list, dropping blanks
func SplitSources(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".vkharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
