package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Iron-Ham/stepflow/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View stepflow configuration",
	Long: `View stepflow configuration.

Without arguments, displays the current configuration.
Use subcommands to create a config file or find where it is read from.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/stepflow/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}

	fmt.Fprintln(out, "paths:")
	fmt.Fprintf(out, "  snapshot_dir: %s\n", cfg.Paths.SnapshotDir)
	fmt.Fprintf(out, "  status_dir: %s\n", cfg.Paths.StatusDir)
	fmt.Fprintf(out, "  history_file: %s\n", cfg.Paths.HistoryFile)
	fmt.Fprintf(out, "  scripts_dir: %s\n", cfg.Paths.ScriptsDir)
	fmt.Fprintf(out, "  log_dir: %s\n", cfg.Paths.LogDir)
	fmt.Fprintf(out, "  workflow_file: %s\n", cfg.Paths.WorkflowFile)

	fmt.Fprintln(out, "runner:")
	fmt.Fprintf(out, "  poll_interval_ms: %d\n", cfg.Runner.PollIntervalMs)
	fmt.Fprintf(out, "  drain_attempts: %d\n", cfg.Runner.DrainAttempts)
	fmt.Fprintf(out, "  drain_wait_ms: %d\n", cfg.Runner.DrainWaitMs)
	fmt.Fprintf(out, "  terminate_timeout_ms: %d\n", cfg.Runner.TerminateTimeoutMs)
	fmt.Fprintf(out, "  cols: %d\n", cfg.Runner.Cols)
	fmt.Fprintf(out, "  rows: %d\n", cfg.Runner.Rows)
	fmt.Fprintln(out, "  interpreters:")
	exts := make([]string, 0, len(cfg.Runner.Interpreters))
	for ext := range cfg.Runner.Interpreters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(out, "    %s: %s\n", ext, cfg.Runner.Interpreters[ext])
	}

	fmt.Fprintln(out, "snapshot:")
	fmt.Fprintf(out, "  compression_level: %d\n", cfg.Snapshot.CompressionLevel)

	fmt.Fprintln(out, "sync:")
	fmt.Fprintf(out, "  network_dir: %s\n", cfg.Sync.NetworkDir)
	fmt.Fprintf(out, "  local_dir: %s\n", cfg.Sync.LocalDir)
	fmt.Fprintf(out, "  mtime_tolerance_ms: %d\n", cfg.Sync.MtimeToleranceMs)
	fmt.Fprintf(out, "  log_limit: %d\n", cfg.Sync.LogLimit)
	fmt.Fprintf(out, "  watch_debounce_ms: %d\n", cfg.Sync.WatchDebounceMs)
	fmt.Fprintf(out, "  extra_ignore: %v\n", cfg.Sync.ExtraIgnore)
	fmt.Fprintf(out, "  system_drive: %s\n", cfg.Sync.SystemDrive)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	return nil
}

const defaultConfigContent = `# Stepflow Configuration

# Files and directories kept in each project (relative to the project)
paths:
  snapshot_dir: .snapshots
  status_dir: .workflow_status
  history_file: workflow_state.json
  scripts_dir: scripts
  log_dir: .workflow_logs
  workflow_file: workflow.yaml

# How scripts are launched and their output read
runner:
  poll_interval_ms: 50
  # Reads per output burst, and the wait between them
  drain_attempts: 10
  drain_wait_ms: 10
  terminate_timeout_ms: 2000
  cols: 200
  rows: 50
  # Extension (without the dot) to interpreter
  interpreters:
    py: python3
    sh: bash

snapshot:
  # Deflate level, 1 (fastest) to 9 (smallest)
  compression_level: 1

# Mirroring of a network project onto a local disk
sync:
  # network_dir: //server/share/project
  # local_dir: /tmp/stepflow-stage
  mtime_tolerance_ms: 2000
  log_limit: 100
  watch_debounce_ms: 500
  extra_ignore: []
  system_drive: "C:"

logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/stepflow/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: STEPFLOW_* (e.g., STEPFLOW_RUNNER_POLL_INTERVAL_MS)")

	return nil
}
