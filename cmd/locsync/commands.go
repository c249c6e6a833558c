package main

import "github.com/urfave/cli/v3"

func trackCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "Track the device position and serve the local UI API until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for the local UI API (overrides server.addr)",
			},
			&cli.BoolFlag{
				Name:  "no-server",
				Usage: "Do not start the local UI API",
			},
		},
		Action: r.Track,
	}
}

func submitCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a manual position",
		Flags: []cli.Flag{
			&cli.FloatFlag{
				Name:     "lat",
				Usage:    "Latitude in degrees",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "lng",
				Usage:    "Longitude in degrees",
				Required: true,
			},
		},
		Action: r.Submit,
	}
}

func nearbyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "nearby",
		Usage: "List peers near your position",
		Flags: []cli.Flag{
			&cli.FloatFlag{
				Name:  "radius",
				Usage: "Search radius in meters (0 uses tracking.nearbyRadius)",
			},
			&cli.FloatFlag{
				Name:  "lat",
				Usage: "Search from this latitude instead of the stored position",
			},
			&cli.FloatFlag{
				Name:  "lng",
				Usage: "Search from this longitude instead of the stored position",
			},
		},
		Action: r.Nearby,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Page through your stored positions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page number",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Positions per page",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "start",
				Usage: "Only positions at or after this RFC3339 time",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "Only positions at or before this RFC3339 time",
			},
		},
		Action: r.History,
	}
}
