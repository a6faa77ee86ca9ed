package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete stepflow configuration
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig names the files and directories stepflow keeps in a project.
// Relative values are resolved against the project directory.
type PathsConfig struct {
	// SnapshotDir holds run archives (default: ".snapshots")
	SnapshotDir string `mapstructure:"snapshot_dir"`
	// StatusDir is where scripts write their success markers (default: ".workflow_status")
	StatusDir string `mapstructure:"status_dir"`
	// HistoryFile records step statuses and the completion log (default: "workflow_state.json")
	HistoryFile string `mapstructure:"history_file"`
	// ScriptsDir resolves relative script references (default: "scripts")
	ScriptsDir string `mapstructure:"scripts_dir"`
	// LogDir holds debug.log (default: ".workflow_logs")
	LogDir string `mapstructure:"log_dir"`
	// WorkflowFile is the workflow definition (default: "workflow.yaml")
	WorkflowFile string `mapstructure:"workflow_file"`
}

// RunnerConfig controls how scripts are launched and how their output is read
type RunnerConfig struct {
	// PollIntervalMs is how often the CLI driver drains output (default: 50)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// DrainAttempts is the number of reads per drain burst (default: 10)
	DrainAttempts int `mapstructure:"drain_attempts"`
	// DrainWaitMs is the wait between reads within a burst (default: 10)
	DrainWaitMs int `mapstructure:"drain_wait_ms"`
	// TerminateTimeoutMs bounds how long Terminate waits for the child (default: 2000)
	TerminateTimeoutMs int `mapstructure:"terminate_timeout_ms"`
	// Cols and Rows size the pseudo-terminal (default: 200x50)
	Cols int `mapstructure:"cols"`
	Rows int `mapstructure:"rows"`
	// Interpreters maps a script extension, without the dot, to the program
	// that runs it. Viper splits keys on dots, so ".py" cannot be a key.
	Interpreters map[string]string `mapstructure:"interpreters"`
}

// SnapshotConfig controls archive creation
type SnapshotConfig struct {
	// CompressionLevel is the deflate level, 1 (fastest) to 9 (smallest) (default: 1)
	CompressionLevel int `mapstructure:"compression_level"`
}

// SyncConfig controls mirroring of a network project onto a local disk.
// Mirroring is on when both NetworkDir and LocalDir are set, or when only
// LocalDir is set and the project itself lives on a network path.
type SyncConfig struct {
	NetworkDir string `mapstructure:"network_dir"`
	LocalDir   string `mapstructure:"local_dir"`
	// MtimeToleranceMs treats modification times this close as equal (default: 2000)
	MtimeToleranceMs int `mapstructure:"mtime_tolerance_ms"`
	// LogLimit caps the entries kept in the local sync log (default: 100)
	LogLimit int `mapstructure:"log_limit"`
	// WatchDebounceMs coalesces local changes before an automatic sync up (default: 500)
	WatchDebounceMs int `mapstructure:"watch_debounce_ms"`
	// ExtraIgnore adds glob patterns to the built-in ignore list
	ExtraIgnore []string `mapstructure:"extra_ignore"`
	// SystemDrive is the drive treated as local on Windows-style paths (default: "C:")
	SystemDrive string `mapstructure:"system_drive"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is active (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			SnapshotDir:  ".snapshots",
			StatusDir:    ".workflow_status",
			HistoryFile:  "workflow_state.json",
			ScriptsDir:   "scripts",
			LogDir:       ".workflow_logs",
			WorkflowFile: "workflow.yaml",
		},
		Runner: RunnerConfig{
			PollIntervalMs:     50,
			DrainAttempts:      10,
			DrainWaitMs:        10,
			TerminateTimeoutMs: 2000,
			Cols:               200,
			Rows:               50,
			Interpreters: map[string]string{
				"py": "python3",
				"sh": "bash",
			},
		},
		Snapshot: SnapshotConfig{
			CompressionLevel: 1,
		},
		Sync: SyncConfig{
			MtimeToleranceMs: 2000,
			LogLimit:         100,
			WatchDebounceMs:  500,
			ExtraIgnore:      []string{},
			SystemDrive:      "C:",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// PollInterval returns the driver's poll interval as a time.Duration
func (c *RunnerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// DrainWait returns the wait between drain attempts as a time.Duration
func (c *RunnerConfig) DrainWait() time.Duration {
	return time.Duration(c.DrainWaitMs) * time.Millisecond
}

// TerminateTimeout returns the terminate timeout as a time.Duration
func (c *RunnerConfig) TerminateTimeout() time.Duration {
	return time.Duration(c.TerminateTimeoutMs) * time.Millisecond
}

// InterpreterMap returns Interpreters keyed the way the runner expects:
// lower-case with a leading dot.
func (c *RunnerConfig) InterpreterMap() map[string]string {
	m := make(map[string]string, len(c.Interpreters))
	for ext, prog := range c.Interpreters {
		m["."+strings.ToLower(strings.TrimPrefix(ext, "."))] = prog
	}
	return m
}

// MtimeTolerance returns the sync mtime tolerance as a time.Duration
func (c *SyncConfig) MtimeTolerance() time.Duration {
	return time.Duration(c.MtimeToleranceMs) * time.Millisecond
}

// WatchDebounce returns the watcher debounce as a time.Duration
func (c *SyncConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// Enabled reports whether both mirror directories are configured.
func (c *SyncConfig) Enabled() bool {
	return c.NetworkDir != "" && c.LocalDir != ""
}

// Resolve joins p to projectDir unless p is already absolute.
func Resolve(projectDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectDir, p)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Paths defaults
	v.SetDefault("paths.snapshot_dir", defaults.Paths.SnapshotDir)
	v.SetDefault("paths.status_dir", defaults.Paths.StatusDir)
	v.SetDefault("paths.history_file", defaults.Paths.HistoryFile)
	v.SetDefault("paths.scripts_dir", defaults.Paths.ScriptsDir)
	v.SetDefault("paths.log_dir", defaults.Paths.LogDir)
	v.SetDefault("paths.workflow_file", defaults.Paths.WorkflowFile)

	// Runner defaults
	v.SetDefault("runner.poll_interval_ms", defaults.Runner.PollIntervalMs)
	v.SetDefault("runner.drain_attempts", defaults.Runner.DrainAttempts)
	v.SetDefault("runner.drain_wait_ms", defaults.Runner.DrainWaitMs)
	v.SetDefault("runner.terminate_timeout_ms", defaults.Runner.TerminateTimeoutMs)
	v.SetDefault("runner.cols", defaults.Runner.Cols)
	v.SetDefault("runner.rows", defaults.Runner.Rows)
	v.SetDefault("runner.interpreters", defaults.Runner.Interpreters)

	// Snapshot defaults
	v.SetDefault("snapshot.compression_level", defaults.Snapshot.CompressionLevel)

	// Sync defaults
	v.SetDefault("sync.network_dir", defaults.Sync.NetworkDir)
	v.SetDefault("sync.local_dir", defaults.Sync.LocalDir)
	v.SetDefault("sync.mtime_tolerance_ms", defaults.Sync.MtimeToleranceMs)
	v.SetDefault("sync.log_limit", defaults.Sync.LogLimit)
	v.SetDefault("sync.watch_debounce_ms", defaults.Sync.WatchDebounceMs)
	v.SetDefault("sync.extra_ignore", defaults.Sync.ExtraIgnore)
	v.SetDefault("sync.system_drive", defaults.Sync.SystemDrive)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stepflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".config", "stepflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
