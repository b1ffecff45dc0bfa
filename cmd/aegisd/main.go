// Command aegisd runs the aegis gas-sponsorship control plane.
//
// Configuration is environment-driven (AEGIS_* variables); flags override
// only the listen address and log level. See config.FromEnv for the full
// variable list.
//
// Usage:
//
//	aegisd [flags]
//
// Flags:
//
//	--listen     HTTP listen address (overrides AEGIS_LISTEN_ADDR)
//	--log.level  Log level: debug, info, warn, error
//	--version    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("aegisd", flag.ContinueOnError)
	listen := fs.String("listen", "", "HTTP listen address (overrides AEGIS_LISTEN_ADDR)")
	logLevel := fs.String("log.level", "", "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("aegisd %s (commit %s)\n", version, commit)
		return 0
	}

	if *logLevel != "" {
		log.SetDefault(log.New(log.LevelFromString(*logLevel)))
	}
	logger := log.Default().Module("aegisd")

	cfg := config.FromEnv()
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err.Error())
		return 1
	}

	logger.Info("aegisd starting",
		"version", version,
		"network", cfg.NetworkID,
		"listen", cfg.ListenAddr,
		"redis", cfg.RedisURL != "",
		"signing", cfg.HasSigningKey())

	ctx := context.Background()
	n, err := node.New(ctx, cfg, node.Options{})
	if err != nil {
		logger.Error("failed to assemble node", "err", err.Error())
		return 1
	}

	if err := n.Run(ctx); err != nil {
		logger.Error("node exited with error", "err", err.Error())
		return 1
	}
	return 0
}
