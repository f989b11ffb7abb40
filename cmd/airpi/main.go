package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("airpi: " + err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to config file",
		Value:   "airpi.yaml",
		EnvVars: []string{"AIRPI_CONFIG"},
	}
	return &cli.App{
		Name:    "airpi",
		Usage:   "sample environmental sensors and ship the readings",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "sample until stopped (the default)",
				Action: runAction,
			},
			{
				Name:   "validate",
				Usage:  "check the config file and exit",
				Action: validateAction,
			},
			{
				Name:  "sensors",
				Usage: "list the configured sensors",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "read", Usage: "take one reading from each sensor"},
				},
				Action: sensorsAction,
			},
		},
	}
}

// runAction samples until stopped. The process exit status is 1 whatever
// the reason for stopping.
func runAction(c *cli.Context) error {
	sum, err := run(c.Context, c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("airpi: %v", err), 1)
	}
	fmt.Fprintln(c.App.Writer, sum.String())
	return cli.Exit("", 1)
}
