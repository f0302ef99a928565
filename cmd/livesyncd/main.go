package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/daemon"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to config.toml")
	socketFlag := flag.String("socket", "", "unix socket path (overrides config)")
	quietFlag := flag.Bool("quiet", false, "log to the log file only")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Config:     cfg,
			SocketPath: *socketFlag,
			Quiet:      *quietFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)

	app.Run()
}
