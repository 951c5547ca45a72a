// eventvm runs RPG Maker style event command lists on a server.
//
// Usage:
//
//	eventvm serve               - Start the control API and frame loop
//	eventvm run <file|dir>      - Execute one event headlessly
//	eventvm validate <paths...> - Check event definition files
//
// Global flags:
//
//	--config <path> - Config file (default: config/config.yaml)
package main

import (
	"fmt"
	"os"

	"github.com/kasuganosora/eventvm/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.yaml"

var (
	// Global flags
	flagConfig string
	flagDebug  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventvm",
	Short: "Event command interpreter server",
	Long: `eventvm executes the command lists of map events: branches, loops,
labels, waits, messages and choices, with many events multiplexed
cooperatively across frames.

Available commands:
  serve     - Start the HTTP control API, SSE/WS streams and frame loop
  run       - Execute one event headlessly and print what it emits
  validate  - Check event definition files for malformed pages

Examples:
  eventvm serve --config config/config.yaml
  eventvm run data/events --event 3
  eventvm validate data/events/*.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Force debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads --config. A missing default file yields the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := flagConfig
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagDebug {
		cfg.Server.Debug = true
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
