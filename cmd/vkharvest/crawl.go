package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"vkharvest/pkg/auth"
	"vkharvest/pkg/checkpoint"
	"vkharvest/pkg/config"
	"vkharvest/pkg/crawler"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/metadata"
	"vkharvest/pkg/metrics"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/shutdown"
	"vkharvest/pkg/storage"
	"vkharvest/pkg/ui"
	"vkharvest/pkg/vk"
)

var (
	// Crawl command flags
	dataDir      string
	pageSize     int
	rateSleep    time.Duration
	noProfiles   bool
	accountName  string
	metricsAddr  string
	forceRestart bool
	notify       bool
	assumeOp     bool
)

// errNoToken is returned when no access token is configured or stored
var errNoToken = errors.New("no VK access token found")

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl [source...]",
	Short: "Collect posts and profiles from VK walls",
	Long: `Collect posts from the walls of the given sources and the profiles of
their owners.

Sources are screen names (durov), numeric user ids (1) or negative
community ids (-1). Sources given as arguments replace the configured list.
The crawl runs until interrupted with Ctrl+C or stopped by an error the
API reports as unrecoverable. Progress is checkpointed on every exit.`,
	Example: `  # Crawl the sources from the config file
  vkharvest crawl

  # Crawl two walls, skipping profiles
  vkharvest crawl durov -1 --no-profiles

  # Use a stored token and expose metrics
  vkharvest crawl durov --account work --metrics-addr :9090

  # Page every wall again from the top
  vkharvest crawl --force-restart`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&dataDir, "data-dir", "o", "", "directory for CSV output and checkpoints")
	crawlCmd.Flags().IntVar(&pageSize, "page-size", 0, "posts per wall.get request (max 100)")
	crawlCmd.Flags().DurationVar(&rateSleep, "rate-sleep", 0, "pause after a rate limit response")
	crawlCmd.Flags().BoolVar(&noProfiles, "no-profiles", false, "skip the profile phase")
	crawlCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored token")
	crawlCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard saved offsets and seen ids before starting")
	crawlCmd.Flags().BoolVar(&notify, "notify", false, "send desktop notifications")
	crawlCmd.Flags().BoolVar(&assumeOp, "assume-operator", false, "read captcha answers from stdin even when it is not a terminal")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	var sources []string
	for _, arg := range args {
		sources = append(sources, config.SplitSources(arg)...)
	}
	flags["sources"] = sources
	flags["data-dir"] = dataDir
	flags["page-size"] = pageSize
	flags["rate-sleep"] = rateSleep
	flags["no-profiles"] = noProfiles
	flags["metrics-addr"] = metricsAddr
	flags["notify"] = notify
	flags["assume-operator"] = assumeOp

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("vkharvest starting")

	if err := resolveToken(cfg, accountName); err != nil {
		return err
	}

	checkpoints, err := checkpoint.NewManager(cfg.CheckpointPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoints: %w", err)
	}
	if forceRestart {
		if err := resetCheckpoints(checkpoints); err != nil {
			return err
		}
		ui.PrintWarning("Checkpoints discarded, paging every wall from the top")
	}

	output, err := storage.NewManager(cfg.Storage.DataDirectory, cfg.Storage.ProfilesFile, cfg.Storage.PostsFile)
	if err != nil {
		return fmt.Errorf("failed to open output files: %w", err)
	}
	defer func() {
		if err := output.Close(); err != nil {
			log.WithError(err).Error("Failed to close output files")
		}
	}()

	recorder := metrics.New()
	if cfg.Metrics.ListenAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := recorder.Serve(metricsCtx, cfg.Metrics.ListenAddr, log); err != nil {
				log.WithError(err).Error("Metrics listener failed")
			}
		}()
	}

	limiter := ratelimit.NewRequestLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	client := vk.NewClient(&cfg.VK, limiter, log)

	c, err := crawler.New(crawler.Dependencies{
		Client:      client,
		Checkpoints: checkpoints,
		Output:      output,
		Solver:      ui.NewConsoleSolver(cfg.Crawl.AssumeOperator),
		Notifier:    ui.NewNotifier(cfg.Notifications),
		Metrics:     recorder,
		Logger:      log,
	}, crawler.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}

	coordinator := shutdown.New(context.Background(), log)
	defer coordinator.Stop()

	ids := make([]string, 0, len(c.Sources()))
	for _, src := range c.Sources() {
		ids = append(ids, src.ID)
	}
	ui.PrintInfo("Sources", strings.Join(ids, ", "))
	ui.PrintInfo("Output", output.GetOutputDir())
	ui.PrintHighlight("[CRAWLING] press Ctrl+C to stop")

	summary, runErr := c.Run(coordinator.Context())
	if summary.Reason != "" {
		ui.PrintSummary(summary)
		if err := metadata.FromSummary(summary, runErr).Save(cfg.Storage.DataDirectory); err != nil {
			log.WithError(err).Warn("Failed to save run report")
		}
	}
	if runErr != nil {
		return fmt.Errorf("crawl stopped: %w", runErr)
	}

	ui.PrintSuccess("[CHECKPOINT SAVED]")
	return nil
}

// resolveToken fills cfg.VK.AccessToken. A token from flags, environment or
// the config file wins unless a stored account is named explicitly.
func resolveToken(cfg *config.Config, account string) error {
	if cfg.VK.AccessToken != "" && account == "" {
		logger.Debug("Using access token from configuration")
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	cred, err := manager.Resolve(account)
	if err != nil {
		if account != "" {
			return fmt.Errorf("no stored token named %q, see 'vkharvest auth list': %w", account, err)
		}
		return fmt.Errorf("%w: run 'vkharvest auth login' or set %s", errNoToken, auth.EnvAccessToken)
	}

	cfg.VK.AccessToken = cred.AccessToken
	if cred.APIVersion != "" {
		cfg.VK.APIVersion = cred.APIVersion
	}
	logger.WithField("account", cred.Name).Info("Using stored access token")
	ui.PrintInfo("Using token", cred.Name)
	return nil
}

// resetCheckpoints backs up and removes every crawl checkpoint
func resetCheckpoints(m *checkpoint.Manager) error {
	for _, key := range []string{checkpoint.KeyPostIDs, checkpoint.KeyProfileIDs, checkpoint.KeyOffsets} {
		if !m.Exists(key) {
			continue
		}
		if err := m.Backup(key); err != nil {
			return fmt.Errorf("failed to back up checkpoint %s: %w", key, err)
		}
		if err := m.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
