// Package config loads the simulator configuration from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/sdn"
	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

// Environment variables that override the file.
const (
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
)

// Config is the whole simulator configuration.
type Config struct {
	Topology  Topology  `toml:"topology"`
	Table     Table     `toml:"table,omitempty"`
	Bootstrap Bootstrap `toml:"bootstrap"`
	Console   Console   `toml:"console"`
	Logging   Logging   `toml:"log"`
	Metrics   Metrics   `toml:"metrics"`
}

// Topology is the node layout.
type Topology struct {
	Host     string `toml:"host"`
	BasePort int    `toml:"base_port"`
	Routers  int    `toml:"routers"`
	EndUsers int    `toml:"end_users"`
}

// Table optionally replaces the preconfigured forwarding table. Each row is
// [src, dst, router, prev, next] in wire ids.
type Table struct {
	Rows [][]int `toml:"rows,omitempty"`
}

// Bootstrap configures the controller's handling of routers that never acknowledge.
type Bootstrap struct {
	Timeout Duration `toml:"timeout"`
	Retries int      `toml:"retries"`
}

// Console configures the interactive end user surface.
type Console struct {
	ReceiveTimeout Duration `toml:"receive_timeout"`
}

// Logging mirrors logging.Config.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Metrics configures the prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr,omitempty"`
}

// Duration is a time.Duration written as a string such as "1.5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the original deployment: eight routers, four end users on localhost
// ports 51510 and up, no bootstrap retries.
func Default() *Config {
	return &Config{
		Topology: Topology{
			Host:     topology.DefaultHost,
			BasePort: topology.DefaultBasePort,
			Routers:  topology.DefaultRouters,
			EndUsers: topology.DefaultEndUsers,
		},
		Console: Console{ReceiveTimeout: Duration{30 * time.Second}},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults. Environment
// overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.Decode(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads TOML from r into cfg. Unknown keys are rejected.
func (cfg *Config) Decode(r io.Reader) error {
	return toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg)
}

// ApplyEnv overrides the logging settings from LOG_LEVEL and LOG_FORMAT.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if level := getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if format := getenv(EnvLogFormat); format != "" {
		cfg.Logging.Format = format
	}
}

// Validate checks the topology, the table and the bootstrap settings.
func (cfg *Config) Validate() error {
	if cfg.Topology.Routers < 0 || cfg.Topology.Routers > 255 ||
		cfg.Topology.EndUsers < 0 || cfg.Topology.EndUsers > 255 {
		return fmt.Errorf("topology: %d routers, %d end users out of range",
			cfg.Topology.Routers, cfg.Topology.EndUsers)
	}
	topo := cfg.NetworkTopology()
	if err := topo.Validate(); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	if _, err := cfg.ForwardingTable(); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if cfg.Bootstrap.Timeout.Duration < 0 || cfg.Bootstrap.Retries < 0 {
		return errors.New("bootstrap: timeout and retries must not be negative")
	}
	return nil
}

// NetworkTopology converts the topology section.
func (cfg *Config) NetworkTopology() topology.Topology {
	return topology.Topology{
		Host:     cfg.Topology.Host,
		BasePort: cfg.Topology.BasePort,
		Routers:  uint8(cfg.Topology.Routers),
		EndUsers: uint8(cfg.Topology.EndUsers),
	}
}

// ForwardingTable returns the configured rows, or the preconfigured table when none are
// given. The preconfigured table only fits the default topology size.
func (cfg *Config) ForwardingTable() (table.Table, error) {
	topo := cfg.NetworkTopology()
	if len(cfg.Table.Rows) == 0 {
		if topo.Routers != topology.DefaultRouters || topo.EndUsers != topology.DefaultEndUsers {
			return nil, errors.New("no rows configured and the preconfigured table needs 8 routers and 4 end users")
		}
		return table.Default(), nil
	}

	raw := make([][table.RowSize]uint8, 0, len(cfg.Table.Rows))
	for i, row := range cfg.Table.Rows {
		if len(row) != table.RowSize {
			return nil, fmt.Errorf("row %d: want %d ids, got %d", i, table.RowSize, len(row))
		}
		var r [table.RowSize]uint8
		for j, v := range row {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("row %d: id %d out of range", i, v)
			}
			r[j] = uint8(v)
		}
		raw = append(raw, r)
	}
	return table.FromRaw(topo, raw)
}

// BootstrapConfig converts the bootstrap section.
func (cfg *Config) BootstrapConfig() sdn.BootstrapConfig {
	return sdn.BootstrapConfig{
		Timeout: cfg.Bootstrap.Timeout.Duration,
		Retries: cfg.Bootstrap.Retries,
	}
}

// LoggingConfig converts the log section.
func (cfg *Config) LoggingConfig() *logging.Config {
	return &logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
}

// Sample writes cfg as TOML.
func (cfg *Config) Sample(w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}
