package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"vkharvest/pkg/checkpoint"
	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/metadata"
	"vkharvest/pkg/models"
	"vkharvest/pkg/ui"
)

var (
	// Checkpoint command flags
	assumeYes bool
)

// checkpointCmd represents the checkpoint command
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset crawl progress",
	Long: `Inspect or reset the checkpoints that let a crawl resume.

Three checkpoints live in the checkpoint directory:
  - posts_id      ids of posts already written
  - users_id      ids of profiles already written
  - offset_list   pagination offset of every source, in source order`,
}

// checkpointShowCmd represents the checkpoint show command
var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show saved progress",
	RunE:  runCheckpointShow,
}

// checkpointResetCmd represents the checkpoint reset command
var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard saved progress",
	Long: `Discard saved offsets and seen ids so the next crawl pages every wall
from the top. A .backup copy of each checkpoint is kept. CSV output is not
touched, and rows already in it are still not written twice.`,
	RunE: runCheckpointReset,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)

	checkpointResetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func openCheckpoints() (*config.Config, *checkpoint.Manager, error) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	m, err := checkpoint.NewManager(cfg.CheckpointPath(), logger.GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoints: %w", err)
	}
	return cfg, m, nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	cfg, m, err := openCheckpoints()
	if err != nil {
		return err
	}

	ui.PrintHighlight("Checkpoints in " + cfg.CheckpointPath())
	fmt.Println()

	for _, key := range []string{checkpoint.KeyPostIDs, checkpoint.KeyProfileIDs, checkpoint.KeyOffsets} {
		info, err := m.Info(key)
		if err != nil {
			ui.PrintWarning(key, err)
			continue
		}
		if info == nil {
			fmt.Printf("  %-12s (none)\n", key)
			continue
		}
		age, _ := info["age"].(time.Duration)
		fmt.Printf("  %-12s %d entries, saved %s ago\n", key, info["entries"], age.Round(time.Second))
	}

	if len(cfg.Crawl.Sources) > 0 {
		offsets, err := m.LoadOffsets(len(cfg.Crawl.Sources))
		if err != nil {
			return err
		}
		sources := make([]models.Source, len(offsets))
		for i, id := range cfg.Crawl.Sources {
			sources[i] = models.Source{ID: id, Offset: offsets[i]}
		}
		fmt.Println("\nOffsets:")
		fmt.Print(ui.FormatSources(sources))
	}

	if metadata.Exists(cfg.Storage.DataDirectory) {
		report, err := metadata.Load(cfg.Storage.DataDirectory)
		if err != nil {
			ui.PrintWarning("Last run report unreadable", err)
			return nil
		}
		fmt.Println("\nLast run:")
		fmt.Printf("  Finished: %s (%s)\n", report.End.Format("2006-01-02 15:04:05"), report.Reason)
		fmt.Printf("  Elapsed: %s\n", ui.FormatElapsed(report.Elapsed()))
		fmt.Printf("  New posts: %d, new profiles: %d, ~%d posts/sec\n", report.NewPosts, report.NewProfiles, report.Throughput)
		if report.Error != "" {
			fmt.Printf("  Error: %s\n", report.Error)
		}
	}
	return nil
}

func runCheckpointReset(cmd *cobra.Command, args []string) error {
	cfg, m, err := openCheckpoints()
	if err != nil {
		return err
	}

	if !assumeYes {
		fmt.Printf("Discard checkpoints in %s? (y/N): ", cfg.CheckpointPath())
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	if err := resetCheckpoints(m); err != nil {
		return err
	}
	ui.PrintSuccess("Checkpoints discarded")
	return nil
}
