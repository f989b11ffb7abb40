package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/internal/sensors"
	"github.com/airpi/airpi/pkg/types"
)

const probeTimeout = 5 * time.Second

// validateAction loads the config with full validation, compiles the
// calibration functions and checks the limit rules.
func validateAction(c *cli.Context) error {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if _, _, err := liveSettings(cfg); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "%s: OK (%d sensors, %d outputs, %d notifiers, %d calibration functions, %d limits)\n",
		path, len(cfg.Sensors), len(cfg.Outputs), len(cfg.Notifications), len(cfg.Calibration), len(cfg.Limits))
	return nil
}

// sensorsAction lists the configured sensors and what they measure. With
// --read it also takes one reading from each.
func sensorsAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	b := sensors.NewBuilder()
	defer b.Close()

	read := c.Bool("read")
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	header := table.Row{"#", "Name", "Type", "Enabled", "Sensor", "Measurement", "Unit", "Kind"}
	if read {
		header = append(header, "Value")
	}
	t.AppendHeader(header)

	for i, p := range cfg.Sensors {
		row := table.Row{i + 1, p.Label(), p.Type, p.IsEnabled()}
		if !p.IsEnabled() {
			t.AppendRow(row)
			continue
		}
		s, err := b.Build(p)
		if err != nil {
			t.AppendRow(append(row, "error: "+err.Error()))
			continue
		}
		info := s.Info()
		row = append(row, info.Sensor, info.Name, info.Unit, string(info.Kind))
		if read {
			row = append(row, probe(c.Context, s))
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// probe takes one reading from s and formats it for display.
func probe(parent context.Context, s types.Sensor) string {
	ctx, cancel := context.WithTimeout(parent, probeTimeout)
	defer cancel()
	switch v := s.(type) {
	case types.LocationSensor:
		defer v.Stop()
		loc, err := v.ReadLocation(ctx)
		if err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("%.5f, %.5f (%s, %s)", loc.Latitude, loc.Longitude, loc.Disposition, loc.Exposure)
	case types.ScalarSensor:
		x, err := v.Read(ctx)
		if err != nil {
			return "error: " + err.Error()
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	default:
		return "-"
	}
}
