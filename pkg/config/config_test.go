package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultProfile("dev")
	cfg.Metrics.Listen = "127.0.0.1:9464"
	require.NoError(t, Save(filepath.Join(dir, FileName), cfg))

	loaded, err := LoadProfile(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, time.Second, loaded.Bridge.PollInterval())
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`profileName = "x"
[bridge]
skipMalformed = true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Bridge.PollIntervalMs)
	assert.Equal(t, int64(64<<20), cfg.Bridge.MaxFrameBytes)
	assert.True(t, cfg.Bridge.SkipMalformed)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no profile name": "[bridge]\npollIntervalMs = 5",
		"negative poll":   "profileName = \"x\"\n[bridge]\npollIntervalMs = -1",
		"journal no path": "profileName = \"x\"\n[journal]\nenabled = true",
		"bad log level":   "profileName = \"x\"\n[logging]\nlevel = \"loud\"",
		"not toml":        "profileName = ",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/p", "journal.db"), ResolvePath("/p", "journal.db"))
	assert.Equal(t, "/abs/j.db", ResolvePath("/p", "/abs/j.db"))
	assert.Equal(t, "", ResolvePath("/p", ""))
}
