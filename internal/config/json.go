package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fedisync/internal/flagx"
	"github.com/dmitrijs2005/fedisync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Zero values
// leave the corresponding Config field untouched.
type JsonConfig struct {
	Domain          string         `json:"domain"`
	DatabaseDSN     string         `json:"database_dsn"`
	AppName         string         `json:"app_name"`
	Scopes          string         `json:"scopes"`
	Paths           []string       `json:"paths"`
	ArchiveInterval timex.Duration `json:"archive_interval"`
	FollowInterval  timex.Duration `json:"follow_interval"`
	HTTPTimeout     timex.Duration `json:"http_timeout"`
	ListenAddr      string         `json:"listen_addr"`
	LogLevel        string         `json:"log_level"`
	LogFormat       string         `json:"log_format"`
	Stream          *bool          `json:"stream"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c / -config. It panics on read or unmarshal errors; a broken config file
// is a startup failure.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc JsonConfig) apply(cfg *Config) {
	setString(&cfg.Domain, jc.Domain)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.AppName, jc.AppName)
	setString(&cfg.Scopes, jc.Scopes)
	setString(&cfg.ListenAddr, jc.ListenAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)

	if len(jc.Paths) > 0 {
		cfg.Paths = jc.Paths
	}
	if jc.ArchiveInterval.Duration > 0 {
		cfg.ArchiveInterval = jc.ArchiveInterval.Duration
	}
	if jc.FollowInterval.Duration > 0 {
		cfg.FollowInterval = jc.FollowInterval.Duration
	}
	if jc.HTTPTimeout.Duration > 0 {
		cfg.HTTPTimeout = jc.HTTPTimeout.Duration
	}
	if jc.Stream != nil {
		cfg.Stream = *jc.Stream
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
