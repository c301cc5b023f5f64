// Package config provides configuration structures and defaults for beacon-locator
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Bases       []BaseConfig      `yaml:"bases" mapstructure:"bases"`             // Fixed receivers and their floor coordinates
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"` // Magnetometer calibration bounds
	Motion      MotionConfig      `yaml:"motion" mapstructure:"motion"`           // Motion alert hysteresis
	Display     DisplayConfig     `yaml:"display" mapstructure:"display"`         // Metre to pixel transform
	Estimator   EstimatorConfig   `yaml:"estimator" mapstructure:"estimator"`     // Multilateration settings
	MQTT        MQTTConfig        `yaml:"mqtt" mapstructure:"mqtt"`               // Broker connection and topics
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`           // Fix document output
	Web         WebConfig         `yaml:"web" mapstructure:"web"`                 // Live websocket and metrics endpoint
	State       StateConfig       `yaml:"state" mapstructure:"state"`             // Motion state persistence
	Relay       RelayConfig       `yaml:"relay" mapstructure:"relay"`             // Base relay (capture side)
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`         // Logging configuration
}

// BaseConfig describes one fixed receiver
type BaseConfig struct {
	ID int     `yaml:"id" mapstructure:"id"` // Base identifier as reported in sightings
	X  float64 `yaml:"x" mapstructure:"x"`   // X coordinate in metres
	Y  float64 `yaml:"y" mapstructure:"y"`   // Y coordinate in metres
}

// CalibrationConfig holds the magnetometer hard-iron bounds
type CalibrationConfig struct {
	XMax float64 `yaml:"x_max" mapstructure:"x_max"` // Largest raw X seen during calibration
	XMin float64 `yaml:"x_min" mapstructure:"x_min"` // Smallest raw X seen during calibration
	YMax float64 `yaml:"y_max" mapstructure:"y_max"` // Largest raw Y seen during calibration
	YMin float64 `yaml:"y_min" mapstructure:"y_min"` // Smallest raw Y seen during calibration

	YMidpoint string `yaml:"y_midpoint" mapstructure:"y_midpoint"` // Centre y on the "x" (reference) or "y" midpoint
}

// MotionConfig controls the per-tag motion alert countdown
type MotionConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"` // Magnitude (g) that triggers an alert
	Window    int     `yaml:"window" mapstructure:"window"`       // Alert length in batches
	Capacity  int     `yaml:"capacity" mapstructure:"capacity"`   // Maximum number of tags tracked
}

// DisplayConfig converts engine metres into floor-plan pixels
type DisplayConfig struct {
	Scale   float64 `yaml:"scale" mapstructure:"scale"`       // Pixels per metre
	YOffset float64 `yaml:"y_offset" mapstructure:"y_offset"` // Pixel row of y = 0
}

// EstimatorConfig selects the multilateration method
type EstimatorConfig struct {
	Method string `yaml:"method" mapstructure:"method"` // "minmax" or "weighted"
}

// MQTTConfig contains broker connection parameters
type MQTTConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                       // Broker host name
	Port           int           `yaml:"port" mapstructure:"port"`                       // Broker TCP port
	ClientID       string        `yaml:"client_id" mapstructure:"client_id"`             // Client identifier (generated when empty)
	Username       string        `yaml:"username" mapstructure:"username"`               // Optional user name
	Password       string        `yaml:"password" mapstructure:"password"`               // Optional password
	KeepAlive      uint16        `yaml:"keep_alive" mapstructure:"keep_alive"`           // Keep-alive interval in seconds
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"` // Dial + CONNECT timeout
	BatchTopic     string        `yaml:"batch_topic" mapstructure:"batch_topic"`         // Topic carrying sighting batches
	FixTopic       string        `yaml:"fix_topic" mapstructure:"fix_topic"`             // Topic for fix documents (empty disables)
	QoS            byte          `yaml:"qos" mapstructure:"qos"`                         // Subscribe/publish QoS (0 or 1)
}

// OutputConfig contains fix document output parameters
type OutputConfig struct {
	FixFile string `yaml:"fix_file" mapstructure:"fix_file"` // File rewritten after every batch (empty disables)
}

// WebConfig contains the HTTP listener parameters
type WebConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // Serve /ws, /fixes and /metrics
	Listen  string `yaml:"listen" mapstructure:"listen"`   // Listen address
}

// StateConfig contains motion state persistence parameters
type StateConfig struct {
	Path         string        `yaml:"path" mapstructure:"path"`                   // SQLite file (empty disables)
	SaveInterval time.Duration `yaml:"save_interval" mapstructure:"save_interval"` // Periodic snapshot interval
}

// RelayConfig contains base relay parameters
type RelayConfig struct {
	BaseID       string        `yaml:"base_id" mapstructure:"base_id"`             // Identifier of this base
	Port         string        `yaml:"port" mapstructure:"port"`                   // Serial device (stdin when empty)
	BaudRate     int           `yaml:"baud_rate" mapstructure:"baud_rate"`         // Serial baud rate
	Watchdog     time.Duration `yaml:"watchdog" mapstructure:"watchdog"`           // Restart capture when silent this long
	TopicPrefix  string        `yaml:"topic_prefix" mapstructure:"topic_prefix"`   // Packets go to TopicPrefix + BaseID
	HeadingTopic string        `yaml:"heading_topic" mapstructure:"heading_topic"` // Heading monitor output topic
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // Log level (debug, info, warn, error)
	File  string `yaml:"file" mapstructure:"file"`   // Log file path (stderr when empty)
}

// DefaultConfig returns the reference deployment configuration
func DefaultConfig() *Config {
	return &Config{
		Bases: []BaseConfig{
			{ID: 2, X: 1.923, Y: 1.385},
			{ID: 1, X: 9.85, Y: 1.277},
			{ID: 0, X: 3.415, Y: 6.846},
			{ID: 3, X: 9.077, Y: 9.154},
		},
		Calibration: CalibrationConfig{
			XMax: 160,
			XMin: -470,
			YMax: 590,
			YMin: 0,

			YMidpoint: "x",
		},
		Motion: MotionConfig{
			Threshold: 0.9,  // g
			Window:    120,  // batches
			Capacity:  4096, // tags
		},
		Display: DisplayConfig{
			Scale:   65,
			YOffset: 634,
		},
		Estimator: EstimatorConfig{
			Method: "minmax",
		},
		MQTT: MQTTConfig{
			Host:           "localhost",
			Port:           1883,
			KeepAlive:      60,
			ConnectTimeout: 10 * time.Second,
			BatchTopic:     "/beacons/fromdb",
			FixTopic:       "",
			QoS:            0,
		},
		Output: OutputConfig{
			FixFile: "json", // the path the floor-plan client polls
		},
		Web: WebConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		State: StateConfig{
			Path:         "",
			SaveInterval: 30 * time.Second,
		},
		Relay: RelayConfig{
			BaseID:       "",
			Port:         "",
			BaudRate:     115200,
			Watchdog:     30 * time.Second,
			TopicPrefix:  "/beacons/base/",
			HeadingTopic: "/beacons/heading",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Validate checks the parts of the configuration the locator depends on
func (c *Config) Validate() error {
	if len(c.Bases) == 0 {
		return fmt.Errorf("no bases configured")
	}
	seen := make(map[int]bool, len(c.Bases))
	for _, b := range c.Bases {
		if seen[b.ID] {
			return fmt.Errorf("duplicate base id %d", b.ID)
		}
		seen[b.ID] = true
	}

	if c.Calibration.XMax <= c.Calibration.XMin {
		return fmt.Errorf("invalid calibration: x_max (%.1f) must exceed x_min (%.1f)", c.Calibration.XMax, c.Calibration.XMin)
	}
	if c.Calibration.YMax <= c.Calibration.YMin {
		return fmt.Errorf("invalid calibration: y_max (%.1f) must exceed y_min (%.1f)", c.Calibration.YMax, c.Calibration.YMin)
	}

	switch c.Calibration.YMidpoint {
	case "", "x", "y":
	default:
		return fmt.Errorf("invalid calibration y_midpoint: %s (must be 'x' or 'y')", c.Calibration.YMidpoint)
	}

	if c.Motion.Window <= 0 {
		return fmt.Errorf("motion window must be positive, got %d", c.Motion.Window)
	}
	if c.Motion.Threshold < 0 {
		return fmt.Errorf("motion threshold must not be negative, got %.2f", c.Motion.Threshold)
	}
	if c.Motion.Capacity <= 0 {
		return fmt.Errorf("motion capacity must be positive, got %d", c.Motion.Capacity)
	}

	if c.Display.Scale <= 0 {
		return fmt.Errorf("display scale must be positive, got %.2f", c.Display.Scale)
	}

	switch c.Estimator.Method {
	case "minmax", "weighted":
	default:
		return fmt.Errorf("invalid estimator method: %s (must be 'minmax' or 'weighted')", c.Estimator.Method)
	}

	if c.MQTT.Host == "" {
		return fmt.Errorf("MQTT host not specified")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid MQTT port: %d", c.MQTT.Port)
	}
	if c.MQTT.QoS > 1 {
		return fmt.Errorf("unsupported MQTT QoS: %d", c.MQTT.QoS)
	}

	return nil
}
