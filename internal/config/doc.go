// Package config loads runtime configuration for fedisync.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Environment: a .env file in the working directory (optional) and the
//     variables DOMAIN, DATABASE_DSN, FEDISYNC_PATHS, LOG_LEVEL.
//  3. Optional JSON file selected via -c / -config (or FEDISYNC_CONFIG).
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-d string   instance domain (e.g. botsin.space)
//	-s string   document store DSN (SQLite path, postgres:// URL or memory:)
//	-p string   comma-separated collection paths to sync
//	-a int      archive interval (seconds)
//	-f int      follow interval (seconds)
//	-l string   listen address of the read API
//	-v string   log level
//	-stream     also consume the streaming API for followed timelines
//
// # JSON schema
//
//	{
//	  "domain": "botsin.space",
//	  "database_dsn": ".mastodon.db",
//	  "paths": ["timelines/home"],
//	  "archive_interval": "5s",
//	  "follow_interval": "30s"
//	}
package config
