package viper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverSection struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "driver:\n  interval: 250ms\n  concurrency: 4\n")

	c := New()
	require.NoError(t, c.LoadFile(path))

	var d driverSection
	require.NoError(t, c.UnmarshalKey("driver", &d))
	assert.Equal(t, 250*time.Millisecond, d.Interval)
	assert.Equal(t, 4, d.Concurrency)
	assert.True(t, c.IsSet("driver.interval"))
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"driver":{"concurrency":2}}`)

	c := New()
	require.NoError(t, c.LoadFile(path))

	var d driverSection
	require.NoError(t, c.UnmarshalKey("driver", &d))
	assert.Equal(t, 2, d.Concurrency)
}

func TestEnvOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", "driver:\n  concurrency: 4\n")
	t.Setenv("CIRCUITTEST_DRIVER_CONCURRENCY", "9")

	c := New("CIRCUITTEST")
	require.NoError(t, c.LoadFile(path))

	var root struct {
		Driver driverSection `mapstructure:"driver"`
	}
	require.NoError(t, c.Unmarshal(&root))
	assert.Equal(t, 9, root.Driver.Concurrency)
}

func TestLoadMissing(t *testing.T) {
	c := New()
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
}
