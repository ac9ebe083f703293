package config

import (
	"time"

	"github.com/dmitrijs2005/fedisync/internal/common"
)

// Config holds runtime settings for a synchronization session.
type Config struct {
	Domain          string
	DatabaseDSN     string
	AppName         string
	Scopes          string
	Paths           []string
	ArchiveInterval time.Duration
	FollowInterval  time.Duration
	HTTPTimeout     time.Duration
	ListenAddr      string
	LogLevel        string
	LogFormat       string
	Stream          bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Domain = "botsin.space"
	c.DatabaseDSN = ".mastodon.db"
	c.AppName = common.DefaultAppName
	c.Scopes = common.DefaultScopes
	c.Paths = []string{"timelines/home"}
	c.ArchiveInterval = 5 * time.Second
	c.FollowInterval = 30 * time.Second
	c.HTTPTimeout = 15 * time.Second
	c.ListenAddr = "127.0.0.1:8080"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.Stream = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from the environment, JSON (if present) and command-line flags. Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
