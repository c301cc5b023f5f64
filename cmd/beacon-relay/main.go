// Beacon Relay - forwards a base's BLE capture to the MQTT broker
// Runs on every base: packets from the capture dump on the serial port (or
// stdin) are framed and published to the base's topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon-locator/internal/config"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/relay"
	"beacon-locator/internal/transport"
	"beacon-locator/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	showVersion bool
	listPorts   bool
)

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:   "beacon-relay",
	Short: "Forward a base's BLE capture to the MQTT broker",
	Long: `Beacon Relay reads the capture dump of a base's BLE radio, splits it into
packets at every line starting with '>' and publishes each packet to
<topic-prefix><base-id>.

The relay exits with status 1 when no packet has been published within the
watchdog timeout, so a supervisor can restart the capture.

Example usage:
  hcidump -R | beacon-relay --base-id 2
  beacon-relay --base-id 2 --port /dev/ttyACM0 --broker 192.168.1.10`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Beacon Relay"))
			return
		}
		if listPorts {
			ports, err := relay.ListPorts()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return
		}
		if err := runRelay(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&listPorts, "list-ports", false, "list serial ports and exit")

	rootCmd.Flags().StringP("base-id", "b", "", "identifier of this base (default $BASE_ID)")
	rootCmd.Flags().StringP("port", "p", "", "serial port of the capture (stdin when empty)")
	rootCmd.Flags().Int("baud", 115200, "serial baud rate")
	rootCmd.Flags().Duration("watchdog", 30*time.Second, "exit when no packet is published for this long (0 disables)")
	rootCmd.Flags().String("topic-prefix", "/beacons/base/", "packets go to <topic-prefix><base-id>")
	rootCmd.Flags().String("broker", "localhost", "MQTT broker host")
	rootCmd.Flags().Int("broker-port", 1883, "MQTT broker port")
	rootCmd.Flags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
}

func initConfig() {
	v = config.NewViper(cfgFile)
	v.BindEnv("relay.base_id", "BASE_ID")

	flags := rootCmd.Flags()
	v.BindPFlag("relay.base_id", flags.Lookup("base-id"))
	v.BindPFlag("relay.port", flags.Lookup("port"))
	v.BindPFlag("relay.baud_rate", flags.Lookup("baud"))
	v.BindPFlag("relay.topic_prefix", flags.Lookup("topic-prefix"))
	v.BindPFlag("mqtt.host", flags.Lookup("broker"))
	v.BindPFlag("mqtt.port", flags.Lookup("broker-port"))
	v.BindPFlag("relay.watchdog", flags.Lookup("watchdog"))
	v.BindPFlag("logging.level", flags.Lookup("log-level"))

	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
	}
}

func runRelay(parent context.Context) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	rc := cfg.Relay
	if rc.BaseID == "" {
		return errors.New("base id not specified: use --base-id or set BASE_ID")
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

	src, err := relay.OpenSource(rc.Port, rc.BaudRate)
	if err != nil {
		return err
	}
	defer src.Close()

	client, err := transport.Dial(ctx, transport.OptionsFromConfig(cfg.MQTT), "beacon-relay-"+rc.BaseID, log)
	if err != nil {
		return err
	}
	defer client.Close()

	r := relay.New(client, rc.TopicPrefix+rc.BaseID, rc.Watchdog, log)
	log.Info("relaying capture",
		"base", rc.BaseID,
		"source", sourceName(rc.Port),
		"topic", r.Topic(),
		"watchdog", rc.Watchdog)

	err = r.Run(ctx, src)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sourceName(port string) string {
	if port == "" || port == "-" {
		return "stdin"
	}
	return port
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
