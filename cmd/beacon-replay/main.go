// Beacon Replay - runs recorded sighting batches through the locator offline
// Each input holds one batch per line (or a single batch); the fix document
// of every batch is exported as JSON lines or CSV.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"beacon-locator/internal/config"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/processor"
	"beacon-locator/internal/version"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string // Configuration file path
	outputFormat string // Output format: json, csv
	outputFile   string // Output file (stdout when empty)
	method       string // Multilateration method override
	verbose      bool   // Enable verbose logging
	showVersion  bool   // Show version information
)

var rootCmd = &cobra.Command{
	Use:   "beacon-replay [batch-file ...]",
	Short: "Replay recorded sighting batches through the locator",
	Long: `Beacon Replay feeds recorded sighting batches through the same pipeline as
the live locator and exports the resulting fixes. Motion state carries over
from batch to batch and from file to file, in argument order.

With no file arguments, or with "-", batches are read from stdin.

Supported output formats:
  - json: one {"batch","source","document"} record per line
  - csv:  one row per fix, for spreadsheet analysis

Example usage:
  beacon-replay recorded/*.jsonl --output-format csv -o fixes.csv
  mosquitto_sub -t /beacons/fromdb | beacon-replay --method weighted`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Beacon Replay"))
			return
		}
		if err := runReplay(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file with bases and calibration (default is ./config.yaml)")
	rootCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "json", "output format (json, csv)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (stdout when empty)")
	rootCmd.Flags().StringVarP(&method, "method", "m", "", "multilateration method override (minmax, weighted)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every batch")
}

func runReplay(inputs []string) error {
	export, err := exporter(outputFormat)
	if err != nil {
		return err
	}

	v := config.NewViper(cfgFile)
	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if method != "" {
		cfg.Estimator.Method = method
	}
	cfg.Logging.File = ""
	cfg.Logging.Level = "warn"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	proc, err := processor.FromConfig(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	var records []processor.Record
	for _, input := range inputs {
		recs, err := replayInput(proc, input)
		records = append(records, recs...)
		if err != nil {
			return err
		}
	}

	out := io.Writer(os.Stdout)
	if outputFile != "" {
		if dir := filepath.Dir(outputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := export(out, records); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	if outputFile != "" {
		fixes := 0
		for _, r := range records {
			fixes += len(r.Document.Chairs)
		}
		fmt.Fprintf(os.Stderr, "Replayed %d batches from %d inputs, %d fixes written to %s\n",
			len(records), len(inputs), fixes, outputFile)
	}
	return nil
}

func replayInput(proc *processor.Processor, input string) ([]processor.Record, error) {
	if input == "-" {
		return proc.Replay(os.Stdin, "stdin")
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return proc.Replay(f, filepath.Base(input))
}

func exporter(format string) (func(io.Writer, []processor.Record) error, error) {
	switch format {
	case "json":
		return processor.ExportJSON, nil
	case "csv":
		return processor.ExportCSV, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
