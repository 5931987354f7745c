package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.True(t, cfg.Parser.Enabled)
	assert.Equal(t, 300*time.Second, cfg.DedupWindow())
	assert.Equal(t, "ws://127.0.0.1:3001", cfg.Channels.OneBot.WSUrl)
	assert.True(t, cfg.Gate.DefaultEnabled)
}

func TestLoadConfig_FileThenEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"channels": {"onebot": {"enabled": true, "ws_url": "ws://qq:3001", "allow_groups": [1001, "1002"]}},
		"parser": {"dedup_window_seconds": 60}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("BILILINK_CHANNELS_ONEBOT_ACCESS_TOKEN", "secret")
	t.Setenv("BILILINK_PARSER_SWEEP_CRON", "*/10 * * * *")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Channels.OneBot.Enabled)
	assert.Equal(t, "ws://qq:3001", cfg.Channels.OneBot.WSUrl)
	assert.Equal(t, FlexibleStringSlice{"1001", "1002"}, cfg.Channels.OneBot.AllowGroups)
	assert.Equal(t, "secret", cfg.Channels.OneBot.AccessToken)
	assert.Equal(t, "*/10 * * * *", cfg.Parser.SweepCron)
	assert.Equal(t, time.Minute, cfg.DedupWindow())
	// untouched sections keep their defaults
	assert.Equal(t, "https://api.bilibili.com", cfg.Bilibili.APIBase)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Gate.DBPath = "/data/gate.db"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/gate.db", loaded.GateDBPath())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home+"/.bililink/gate.db", expandHome("~/.bililink/gate.db"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
}
