package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Parser   ParserConfig   `json:"parser"`
	Bilibili BilibiliConfig `json:"bilibili"`
	Gate     GateConfig     `json:"gate"`
	Log      LogConfig      `json:"log"`
	mu       sync.RWMutex
}

type ChannelsConfig struct {
	OneBot OneBotConfig `json:"onebot"`
}

type OneBotConfig struct {
	Enabled           bool                `json:"enabled" env:"BILILINK_CHANNELS_ONEBOT_ENABLED"`
	Debug             bool                `json:"debug" env:"BILILINK_CHANNELS_ONEBOT_DEBUG"`
	WSUrl             string              `json:"ws_url" env:"BILILINK_CHANNELS_ONEBOT_WS_URL"`
	AccessToken       string              `json:"access_token" env:"BILILINK_CHANNELS_ONEBOT_ACCESS_TOKEN"`
	ReconnectInterval int                 `json:"reconnect_interval" env:"BILILINK_CHANNELS_ONEBOT_RECONNECT_INTERVAL"`
	QuoteReply        bool                `json:"quote_reply" env:"BILILINK_CHANNELS_ONEBOT_QUOTE_REPLY"`
	AllowGroups       FlexibleStringSlice `json:"allow_groups" env:"BILILINK_CHANNELS_ONEBOT_ALLOW_GROUPS"`
	AllowFrom         FlexibleStringSlice `json:"allow_from" env:"BILILINK_CHANNELS_ONEBOT_ALLOW_FROM"`
}

type ParserConfig struct {
	Enabled            bool   `json:"enabled" env:"BILILINK_PARSER_ENABLED"`
	AllowPrivate       bool   `json:"allow_private" env:"BILILINK_PARSER_ALLOW_PRIVATE"`
	DedupWindowSeconds int    `json:"dedup_window_seconds" env:"BILILINK_PARSER_DEDUP_WINDOW_SECONDS"`
	SweepCron          string `json:"sweep_cron" env:"BILILINK_PARSER_SWEEP_CRON"`
	DescMaxLength      int    `json:"desc_max_length" env:"BILILINK_PARSER_DESC_MAX_LENGTH"`
	PostImageLimit     int    `json:"post_image_limit" env:"BILILINK_PARSER_POST_IMAGE_LIMIT"`
}

type BilibiliConfig struct {
	APIBase        string `json:"api_base" env:"BILILINK_BILIBILI_API_BASE"`
	LiveAPIBase    string `json:"live_api_base" env:"BILILINK_BILIBILI_LIVE_API_BASE"`
	UserAgent      string `json:"user_agent" env:"BILILINK_BILIBILI_USER_AGENT"`
	Cookie         string `json:"cookie,omitempty" env:"BILILINK_BILIBILI_COOKIE"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"BILILINK_BILIBILI_TIMEOUT_SECONDS"`
	RetryCount     int    `json:"retry_count" env:"BILILINK_BILIBILI_RETRY_COUNT"`
}

type GateConfig struct {
	DBPath         string `json:"db_path" env:"BILILINK_GATE_DB_PATH"`
	DefaultEnabled bool   `json:"default_enabled" env:"BILILINK_GATE_DEFAULT_ENABLED"`
}

type LogConfig struct {
	Level string `json:"level" env:"BILILINK_LOG_LEVEL"`
	File  string `json:"file,omitempty" env:"BILILINK_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			OneBot: OneBotConfig{
				Enabled:           false,
				WSUrl:             "ws://127.0.0.1:3001",
				AccessToken:       "",
				ReconnectInterval: 5,
				QuoteReply:        false,
				AllowGroups:       FlexibleStringSlice{},
				AllowFrom:         FlexibleStringSlice{},
			},
		},
		Parser: ParserConfig{
			Enabled:            true,
			AllowPrivate:       false,
			DedupWindowSeconds: 300,
			SweepCron:          "",
			DescMaxLength:      120,
			PostImageLimit:     3,
		},
		Bilibili: BilibiliConfig{
			APIBase:        "https://api.bilibili.com",
			LiveAPIBase:    "https://api.live.bilibili.com",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			TimeoutSeconds: 10,
			RetryCount:     1,
		},
		Gate: GateConfig{
			DBPath:         "~/.bililink/gate.db",
			DefaultEnabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) GateDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Gate.DBPath)
}

// DedupWindow falls back to five minutes when unset.
func (c *Config) DedupWindow() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Parser.DedupWindowSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Parser.DedupWindowSeconds) * time.Second
}

func (c *Config) BilibiliTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Bilibili.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Bilibili.TimeoutSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
