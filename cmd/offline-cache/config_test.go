package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	config, err := loadConfig(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "playlistz-cache-v1", config.CacheName)
	assert.Equal(t, "/.offline", config.ControlPrefix)
	assert.Equal(t, "cache.db", config.dbFilename())
	assert.Equal(t, 10*time.Second, config.ShutdownTimeout)
}

func TestLayersOverrideInOrder(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
origin: http://file.example
port: 9000
cacheName: from-file
db: memory
shutdownTimeout: 3s
policy:
  cacheSuffixes: [".html", ".json"]
`), 0o644))
	t.Setenv("OFFLINE_CACHE_PORT", "9100")
	t.Setenv("OFFLINE_CACHE_CACHE_NAME", "from-env")
	t.Setenv("OFFLINE_CACHE_POLICY_METHODS", "GET,HEAD")

	config, err := loadConfig([]string{"-config", configFile, "-cache-name", "from-flag"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "http://file.example", config.Origin)
	assert.Equal(t, 9100, config.Port)
	assert.Equal(t, "from-flag", config.CacheName)
	assert.Equal(t, "", config.dbFilename())
	assert.Equal(t, 3*time.Second, config.ShutdownTimeout)
	assert.Equal(t, []string{".html", ".json"}, config.Policy.CacheSuffixes)
	assert.Equal(t, []string{"GET", "HEAD"}, config.Policy.Methods)
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_DB", "/var/lib/offline-cache.db")

	config, err := loadConfig([]string{"-port", "8081"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/offline-cache.db", config.DB)
	assert.Equal(t, 8081, config.Port)
}

func TestInvalidConfig(t *testing.T) {
	_, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yml")}, io.Discard)
	assert.Error(t, err)

	_, err = loadConfig([]string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)

	t.Setenv("OFFLINE_CACHE_PORT", "eighty")
	_, err = loadConfig(nil, io.Discard)
	assert.Error(t, err)
}

func TestOriginURL(t *testing.T) {
	u, host, err := Config{Origin: "https://music.example:8443"}.originURL()
	require.NoError(t, err)
	assert.Equal(t, "music.example:8443", u.Host)
	assert.Empty(t, host)

	u, host, err = Config{Addr: "10.0.0.7", Host: "music.example"}.originURL()
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.7", u.String())
	assert.Equal(t, "music.example", host)

	_, _, err = Config{Origin: "ftp://music.example"}.originURL()
	assert.Error(t, err)

	_, _, err = Config{}.originURL()
	assert.Error(t, err)
}

func TestExampleConfig(t *testing.T) {
	config, err := loadConfig([]string{"-config", "../../examples/offline-cache.yml"}, io.Discard)
	require.NoError(t, err)

	u, _, err := config.originURL()
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", u.Host)
	assert.Equal(t, "playlistz-cache-v1", config.CacheName)
	assert.Equal(t, []string{"/data/"}, config.Policy.BypassSegments)
	assert.Equal(t, []string{".html", "sw.js"}, config.Policy.CacheSuffixes)
}
