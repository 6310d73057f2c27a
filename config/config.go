// Package config loads the settings a Modbus/TCP server or client needs to
// start: the listen/dial address, the unit ID to serve or expect, the log
// level, and the data store backend to use.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tcpmodbus/gomodbus/modbus"
)

// StoreConfig selects and configures the DataStore backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `mapstructure:"backend"`

	// DSN is the SQLite data source name, used only when Backend is
	// "sqlite".
	DSN string `mapstructure:"dsn"`

	// Coils, DiscreteInputs, HoldingRegisters and InputRegisters size the
	// in-memory backend; ignored for "sqlite", which sizes itself from
	// whatever rows already exist in the database.
	Coils            uint16 `mapstructure:"coils"`
	DiscreteInputs   uint16 `mapstructure:"discrete_inputs"`
	HoldingRegisters uint16 `mapstructure:"holding_registers"`
	InputRegisters   uint16 `mapstructure:"input_registers"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of zerolog's level names: "debug", "info", "warn",
	// "error".
	Level string `mapstructure:"level"`
}

// Config is the top-level configuration for a Modbus/TCP server process.
type Config struct {
	BindAddress string      `mapstructure:"bind_address"`
	BindPort    int         `mapstructure:"bind_port"`
	UnitID      uint8       `mapstructure:"unit_id"`
	Log         LogConfig   `mapstructure:"log"`
	Store       StoreConfig `mapstructure:"store"`
}

// Load reads configuration from configFile if non-empty, otherwise searches
// the standard locations ("/etc/gomodbus/", "$HOME/.gomodbus", ".") for a
// file named "config". Every key can be overridden by an environment
// variable of the same name, uppercased, with "." replaced by "_" and
// prefixed "GOMODBUS_" (e.g. GOMODBUS_BIND_PORT, GOMODBUS_STORE_BACKEND).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/gomodbus/")
		v.AddConfigPath("$HOME/.gomodbus")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("gomodbus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind_address", "0.0.0.0")
	v.SetDefault("bind_port", 502)
	v.SetDefault("unit_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.coils", 1000)
	v.SetDefault("store.discrete_inputs", 1000)
	v.SetDefault("store.holding_registers", 1000)
	v.SetDefault("store.input_registers", 1000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.UnitID < uint8(modbus.UnitIndividualMin) || c.UnitID > uint8(modbus.UnitIndividualMax) {
		return fmt.Errorf("config: unit_id must be between %d and %d",
			modbus.UnitIndividualMin, modbus.UnitIndividualMax)
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}
