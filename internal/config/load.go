package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. BEACON_MQTT_HOST.
const EnvPrefix = "BEACON"

// NewViper returns a viper instance reading path (when set) and BEACON_*
// environment variables.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load overlays the values held by v on DefaultConfig. A bases list in v
// replaces the reference deployment rather than merging with it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if v.IsSet("bases") {
		cfg.Bases = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
