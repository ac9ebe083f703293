package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedisync/internal/flagx"
)

// ValueFlags lists the flags that take a value; main uses it to find the
// sub-command among the positional arguments.
var ValueFlags = []string{"-c", "-config", "-d", "-s", "-p", "-a", "-f", "-l", "-v"}

var boolFlags = []string{"-stream"}

// parseFlags populates Config fields from command-line flags. Only the
// flags handled here are passed to the FlagSet (see flagx.FilterArgs).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-p", "-a", "-f", "-l", "-v"}, boolFlags...)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Domain, "d", cfg.Domain, "instance domain")
	fs.StringVar(&cfg.DatabaseDSN, "s", cfg.DatabaseDSN, "document store DSN")
	paths := fs.String("p", strings.Join(cfg.Paths, ","), "comma-separated collection paths")
	archiveInterval := fs.Int("a", int(cfg.ArchiveInterval.Seconds()), "archive interval (in seconds)")
	followInterval := fs.Int("f", int(cfg.FollowInterval.Seconds()), "follow interval (in seconds)")
	fs.StringVar(&cfg.ListenAddr, "l", cfg.ListenAddr, "read API listen address")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Stream, "stream", cfg.Stream, "consume the streaming API")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Only explicitly set flags overwrite; sub-second intervals from JSON
	// would otherwise be truncated by the seconds round trip.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Paths = splitPaths(*paths)
		case "a":
			cfg.ArchiveInterval = time.Duration(*archiveInterval) * time.Second
		case "f":
			cfg.FollowInterval = time.Duration(*followInterval) * time.Second
		}
	})
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
