package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/matheus3301/livesync/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "livesyncctl",
		Usage: "inspect and drive a running livesyncd",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.toml",
				Value:   config.DefaultPath(),
				EnvVars: []string{"LIVESYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "daemon socket path (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output in JSON format",
			},
		},
		Commands: []*cli.Command{
			statusCommand(),
			conversationsCommand(),
			messagesCommand(),
			sendCommand(),
			createCommand(),
			readCommand(),
			tailCommand(),
			pairCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
