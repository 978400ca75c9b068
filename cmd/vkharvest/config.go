package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"vkharvest/pkg/auth"
	"vkharvest/pkg/config"
	"vkharvest/pkg/ui"
)

// defaultConfigFile is written by config init when --config is not given
const defaultConfigFile = ".vkharvest.yaml"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage vkharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.vkharvest.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging all sources.

The access token is masked.`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the effective configuration for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Sources and their format
  - Value ranges
  - Path accessibility`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# vkharvest configuration file
#
# Environment variables override this file:
#   VK_ACCESS_TOKEN, VK_API_VERSION, VKHARVEST_SOURCES, VKHARVEST_DATA_DIR,
#   VKHARVEST_REQUESTS_PER_SECOND, VKHARVEST_METRICS_ADDR,
#   VKHARVEST_NOTIFICATIONS_ENABLED, VKHARVEST_LOG_LEVEL

vk:
  # Leave empty and run 'vkharvest auth login' to keep the token in the keychain
  access_token: ""
  api_version: "5.131"
  base_url: "https://api.vk.com/method"
  timeout: 30s
  user_agent: "vkharvest/1.0"

crawl:
  # Screen names, user ids or negative community ids
  sources:
    - durov
  # Posts per wall.get request, 1-100
  page_size: 100
  # Requests sent back to back before pausing
  request_burst: 3
  # Pause after each burst, grows by 1s on every "too many requests" reply
  request_sleep_interval: 1s
  # Pause after a rate limit reply or a malformed response
  rate_sleep_interval: 300s
  # Pause after a network failure
  transport_sleep: 300s
  # Pause after a transient server error
  transient_sleep: 5s
  # Ids per users.get request
  profile_chunk_size: 1000
  fetch_profiles: true
  # Accept captcha answers piped on stdin when it is not a terminal
  assume_operator: false

rate_limit:
  # Client side cap, 0 disables it
  requests_per_second: 3
  burst: 3

storage:
  data_dir: "./data"
  profiles_file: "users.csv"
  posts_file: "posts.csv"
  # Defaults to data_dir
  checkpoint_dir: ""

metrics:
  # Serve Prometheus metrics, e.g. ":9090". Empty disables the listener
  listen_addr: ""

notifications:
  enabled: false
  on_captcha: true
  on_complete: true

logging:
  # debug, info, warn, error
  level: "info"
  # Leave empty to log to stderr only
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = defaultConfigFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. List the walls to crawl under crawl.sources")
	fmt.Println("2. Run 'vkharvest auth login' to store an access token")
	fmt.Println("3. Run 'vkharvest config validate' to check the configuration")
	fmt.Println("4. Start with 'vkharvest crawl'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	displayCfg := *cfg
	if displayCfg.VK.AccessToken != "" {
		displayCfg.VK.AccessToken = auth.MaskToken(displayCfg.VK.AccessToken)
	}

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (VK_*, VKHARVEST_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var warnings, problems []string

	if len(cfg.Crawl.Sources) == 0 {
		warnings = append(warnings, "no sources configured, pass them to 'vkharvest crawl'")
	}
	if cfg.VK.AccessToken == "" {
		warnings = append(warnings, "no access token in configuration, a stored token will be used")
	}

	if err := os.MkdirAll(cfg.Storage.DataDirectory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create data directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:", "")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:", "")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Sources: %d\n", len(cfg.Crawl.Sources))
	fmt.Printf("  Data directory: %s\n", cfg.Storage.DataDirectory)
	fmt.Printf("  Page size: %d\n", cfg.Crawl.PageSize)
	fmt.Printf("  Request burst: %d every %s\n", cfg.Crawl.RequestBurst, cfg.Crawl.RequestSleepInterval)
	fmt.Printf("  Rate limit pause: %s\n", cfg.Crawl.RateSleepInterval)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
