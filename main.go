// Beacon Locator - indoor BLE tag locator
// This program consumes batches of RSSI sightings reported by fixed bases,
// locates each tag by multilateration and publishes the floor-plan fixes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"beacon-locator/internal/config"
	"beacon-locator/internal/locator"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command line flag variables
var (
	cfgFile     string // Configuration file path
	showVersion bool   // Print version information and exit
)

var v *viper.Viper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beacon-locator",
	Short: "Indoor BLE tag locator",
	Long: `Beacon Locator subscribes to batches of BLE sightings reported by fixed
bases, estimates the position, heading and motion state of every tag seen by
all bases, and writes the result as a floor-plan fix document.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Beacon Locator"))
			return
		}
		if err := runLocator(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	rootCmd.Flags().String("broker", "localhost", "MQTT broker host")
	rootCmd.Flags().Int("broker-port", 1883, "MQTT broker port")
	rootCmd.Flags().String("batch-topic", "/beacons/fromdb", "topic carrying sighting batches")
	rootCmd.Flags().String("fix-topic", "", "topic to republish fix documents on (empty disables)")
	rootCmd.Flags().StringP("output", "o", "json", "fix document file (empty disables)")
	rootCmd.Flags().String("method", "minmax", "multilateration method: minmax or weighted")
	rootCmd.Flags().String("listen", ":8080", "websocket and metrics listen address")
	rootCmd.Flags().Bool("web", true, "serve /ws, /fixes and /metrics")
	rootCmd.Flags().String("state", "", "SQLite file for motion state (empty disables)")
	rootCmd.Flags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	v = config.NewViper(cfgFile)

	flags := rootCmd.Flags()
	v.BindPFlag("mqtt.host", flags.Lookup("broker"))
	v.BindPFlag("mqtt.port", flags.Lookup("broker-port"))
	v.BindPFlag("mqtt.batch_topic", flags.Lookup("batch-topic"))
	v.BindPFlag("mqtt.fix_topic", flags.Lookup("fix-topic"))
	v.BindPFlag("output.fix_file", flags.Lookup("output"))
	v.BindPFlag("estimator.method", flags.Lookup("method"))
	v.BindPFlag("web.listen", flags.Lookup("listen"))
	v.BindPFlag("web.enabled", flags.Lookup("web"))
	v.BindPFlag("state.path", flags.Lookup("state"))
	v.BindPFlag("logging.level", flags.Lookup("log-level"))

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
}

// runLocator is the main application logic
func runLocator(parent context.Context) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Info("beacon locator starting",
		"version", version.GetFullVersion(),
		"bases", len(cfg.Bases),
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"batch_topic", cfg.MQTT.BatchTopic,
		"method", cfg.Estimator.Method,
		"fix_file", cfg.Output.FixFile)

	l := locator.NewLocator(cfg, log, nil)
	if err := l.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize locator: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := l.Run(ctx); err != nil {
		return fmt.Errorf("locator failed: %w", err)
	}
	log.Info("beacon locator stopped")
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
