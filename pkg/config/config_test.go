package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so a stray .env is never picked up.
func isolate(t *testing.T) string {
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8765", c.Addr())
	assert.Equal(t, StoreFile, c.Store)
	assert.Equal(t, 800*time.Millisecond, c.Debounce)
	assert.Equal(t, 4*time.Second, c.Reconnect)
	assert.Equal(t, "ws://127.0.0.1:8765/", c.PeerEndpoint())
	assert.Equal(t, "sticky-notes", filepath.Base(c.DataDir))
}

func TestLoadLayers(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "notesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nstore: sqlite\ndebounce: 250ms\nhost: 10.0.0.1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WS_PORT=9100\nNOTESYNC_HEARTBEAT=15s\n"), 0o644))
	t.Setenv("WS_PORT", "9200")
	t.Setenv("NOTESYNC_RATE_LIMIT", "2.5")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, c.Port, "environment wins over .env and the file")
	assert.Equal(t, 15*time.Second, c.Heartbeat, ".env fills what the environment does not set")
	assert.Equal(t, StoreSQLite, c.Store)
	assert.Equal(t, 250*time.Millisecond, c.Debounce)
	assert.Equal(t, 2.5, c.RateLimit)
	assert.Equal(t, "ws://10.0.0.1:9200/", c.PeerEndpoint())
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("colour: blue\n"), 0o644))
	_, err = Load(unknown)
	assert.ErrorContains(t, err, "failed to parse config")

	t.Setenv("WS_PORT", "eighty")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"port":      func(c *Config) { c.Port = 0 },
		"store":     func(c *Config) { c.Store = "postgres" },
		"data dir":  func(c *Config) { c.DataDir = "" },
		"debounce":  func(c *Config) { c.Debounce = 0 },
		"reconnect": func(c *Config) { c.Reconnect = -time.Second },
		"heartbeat": func(c *Config) { c.Heartbeat = -time.Second },
		"retention": func(c *Config) { c.Retention = -1 },
		"size":      func(c *Config) { c.MaxMessageSize = 0 },
		"rate":      func(c *Config) { c.RateLimit = -1 },
		"burst":     func(c *Config) { c.RateBurst = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestPeerEndpointOverride(t *testing.T) {
	c := Default()
	c.PeerURL = "ws://192.168.1.20:8765"
	assert.Equal(t, "ws://192.168.1.20:8765", c.PeerEndpoint())
}
