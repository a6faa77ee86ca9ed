package cmd

import (
	"strings"

	"github.com/Iron-Ham/stepflow/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Resumable step-by-step script runner",
	Long: `Stepflow runs a workflow's scripts one step at a time against a project
directory. Every run is snapshotted first, so a failed or interrupted step
is rolled back and any completed step can be undone. Projects on a network
share are mirrored to a local staging copy while steps run.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/stepflow/config.yaml)")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project directory (default is the current directory)")
	rootCmd.PersistentFlags().StringP("workflow", "w", "", "workflow file (default is paths.workflow_file in the project)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("workflow", rootCmd.PersistentFlags().Lookup("workflow"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/stepflow")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STEPFLOW")
	// e.g., STEPFLOW_RUNNER_POLL_INTERVAL_MS for runner.poll_interval_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
