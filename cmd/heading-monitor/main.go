// Heading Monitor - prints the magnetometer heading of a single tag
// Used while calibrating: the capture dump of one base is scanned for
// magnetometer reports and every decoded heading is printed and, when a
// broker is given, published.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"beacon-locator/internal/config"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/relay"
	"beacon-locator/internal/sensor"
	"beacon-locator/internal/transport"
	"beacon-locator/internal/version"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	portName    string
	baudRate    int
	broker      string
	brokerPort  int
	topic       string
	verbose     bool
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "heading-monitor",
	Short: "Print the magnetometer heading of a tag",
	Long: `Heading Monitor scans a capture dump for magnetometer reports and prints one
line per report:

  x=<raw x>,y=<raw y>,z=<raw z>,heading=<degrees>

Rotate the tag through a full turn and copy the extreme x and y values into
the calibration section of the config file.

Example usage:
  hcidump -R | heading-monitor
  heading-monitor --port /dev/ttyACM0 --broker localhost`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Heading Monitor"))
			return
		}
		if err := runMonitor(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file with the calibration bounds (default is ./config.yaml)")
	rootCmd.Flags().StringVarP(&portName, "port", "p", "", "serial port of the capture (stdin when empty)")
	rootCmd.Flags().IntVar(&baudRate, "baud", 115200, "serial baud rate")
	rootCmd.Flags().StringVar(&broker, "broker", "", "MQTT broker host (headings are only printed when empty)")
	rootCmd.Flags().IntVar(&brokerPort, "broker-port", 1883, "MQTT broker port")
	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "heading topic (default from config, /beacons/heading)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log skipped reports")
}

func runMonitor(parent context.Context) error {
	v := config.NewViper(cfgFile)
	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg.Logging.Level = "info"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if topic == "" {
		topic = cfg.Relay.HeadingTopic
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := relay.OpenSource(portName, baudRate)
	if err != nil {
		return err
	}
	defer src.Close()

	var pub relay.Publisher
	if broker != "" {
		opts := transport.OptionsFromConfig(cfg.MQTT)
		opts.Host = broker
		opts.Port = brokerPort
		client, err := transport.Dial(ctx, opts, "heading-monitor", log)
		if err != nil {
			return err
		}
		defer client.Close()
		pub = client
		log.Info("publishing headings", "topic", topic)
	}

	monitor := relay.NewHeadingMonitor(pub, topic, sensor.CalibrationFromConfig(cfg.Calibration), os.Stdout, log)
	err = monitor.Run(ctx, src)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
