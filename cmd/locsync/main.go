package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/studyhub/locsync/internal/config"
	intOtel "github.com/studyhub/locsync/internal/otel"
)

// module defs - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"

	AppName = "locsync"
)

func main() {
	intOtel.Version = Version

	r := NewRunner(os.Stdout)
	app := newApp(r)

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "Share your live location and see nearby study peers",
		Version: fmt.Sprintf("%s (%s)", Version, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"c"},
				Usage:   "Directory containing " + config.FileName,
				Value:   ".",
				Sources: cli.EnvVars("LOCSYNC_CONFIG_DIR"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before: r.Setup,
		After:  r.Teardown,
		Commands: []*cli.Command{
			trackCommand(r),
			submitCommand(r),
			nearbyCommand(r),
			historyCommand(r),
		},
	}
}
