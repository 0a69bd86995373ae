// Command pluginhost loads plugin modules into a host process, lists them
// and unloads them again.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pluginhost/internal/config"
	"pluginhost/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pluginhost",
	Short: "pluginhost - load, isolate and unload Go plugin modules",
	Long: `pluginhost loads Go source modules into isolated interpreters.

Each module runs in its own namespace: packages found next to the module
are private to it, while the plugin contract is shared with the host.
Modules can be unloaded at any time without affecting the others.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.Options()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Boot("config loaded from %s", configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
