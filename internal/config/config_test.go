package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

func TestDefaultsMatchOriginalDeployment(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, topology.Default(), cfg.NetworkTopology())
	tbl, err := cfg.ForwardingTable()
	require.NoError(t, err)
	require.Equal(t, table.Default(), tbl)
	require.Zero(t, cfg.BootstrapConfig().Timeout)
	require.Equal(t, 30*time.Second, cfg.Console.ReceiveTimeout.Duration)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdnsim.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[topology]
host = "127.0.0.1"
base_port = 40000
routers = 2
end_users = 2

[table]
rows = [
  [3, 4, 1, 3, 2],
  [3, 4, 2, 1, 4],
]

[bootstrap]
timeout = "250ms"
retries = 3

[log]
level = "debug"
format = "json"

[metrics]
addr = ":9090"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	topo := cfg.NetworkTopology()
	require.Equal(t, 40000, topo.BasePort)
	require.Equal(t, uint8(2), topo.Routers)

	tbl, err := cfg.ForwardingTable()
	require.NoError(t, err)
	require.Len(t, tbl, 2)
	require.Equal(t, topo.MustRouter(2), tbl[0].Next)
	require.Equal(t, topo.MustEndUser(2), tbl[1].Next)

	boot := cfg.BootstrapConfig()
	require.Equal(t, 250*time.Millisecond, boot.Timeout)
	require.Equal(t, 3, boot.Retries)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestEnvOverridesLogging(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvLogLevel: "warn"}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	require.Equal(t, "warn", cfg.LoggingConfig().Level)
	require.Equal(t, "console", cfg.LoggingConfig().Format)

	t.Setenv(EnvLogFormat, "json")
	loaded, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "json", loaded.Logging.Format)
}

func TestRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"unknown key", "[topology]\nrouterz = 3\n"},
		{"short row", "[table]\nrows = [[9, 10, 1]]\n"},
		{"id out of range", "[table]\nrows = [[9, 10, 1, 9, 300]]\n"},
		{"unknown node", "[table]\nrows = [[9, 13, 1, 9, 3]]\n"},
		{"router column not a router", "[table]\nrows = [[9, 10, 9, 1, 3]]\n"},
		{"default table on other topology", "[topology]\nrouters = 3\n"},
		{"negative retries", "[bootstrap]\nretries = -1\n"},
		{"bad duration", "[bootstrap]\ntimeout = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.Decode(strings.NewReader(tt.toml))
			if err == nil {
				err = cfg.Validate()
			}
			require.Error(t, err)
		})
	}
}

func TestSampleRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Bootstrap.Timeout = Duration{2 * time.Second}

	var buf bytes.Buffer
	require.NoError(t, cfg.Sample(&buf))
	require.Contains(t, buf.String(), "2s")

	decoded := &Config{}
	require.NoError(t, decoded.Decode(&buf))
	require.Equal(t, cfg, decoded)
}
