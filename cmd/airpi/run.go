package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/airpi/airpi/internal/calibration"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/internal/engine"
	"github.com/airpi/airpi/internal/indicator"
	"github.com/airpi/airpi/internal/limits"
	"github.com/airpi/airpi/internal/logging"
	"github.com/airpi/airpi/internal/metadata"
	"github.com/airpi/airpi/internal/notify"
	"github.com/airpi/airpi/internal/outputs"
	"github.com/airpi/airpi/internal/sensors"
	"github.com/airpi/airpi/pkg/types"
)

const notifyTimeout = 30 * time.Second

// run loads the config, wires every component and samples until the
// engine stops.
func run(parent context.Context, path string) (engine.Summary, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return engine.Summary{}, err
	}
	logCloser, err := logging.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		return engine.Summary{}, err
	}
	defer logCloser.Close()

	slog.Info("airpi starting", "config", path, "version", version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cal, lim, err := liveSettings(cfg)
	if err != nil {
		return engine.Summary{}, err
	}

	sb := sensors.NewBuilder()
	ob := outputs.NewBuilder(lim, cal)
	defer func() {
		if err := multierr.Combine(ob.Close(), sb.Close()); err != nil {
			slog.Error("airpi: closing plugins", "err", err)
		}
	}()

	sens, err := buildSensors(sb, cfg)
	if err != nil {
		return engine.Summary{}, err
	}
	sinks, err := buildSinks(ctx, ob, cfg)
	if err != nil {
		return engine.Summary{}, err
	}
	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return engine.Summary{}, err
	}
	green, red, err := lights(cfg.LEDs)
	if err != nil {
		return engine.Summary{}, err
	}

	eng, err := engine.New(sens, sinks, engine.Options{
		SampleInterval: cfg.Sampling.SampleInterval,
		AverageWindow:  cfg.Sampling.AverageWindow(),
		StopAfter:      cfg.Sampling.StopAfter,
		Warmup:         cfg.Sampling.Warmup,
		WaitToStart:    cfg.Sampling.WaitToStart,
		SuccessLight:   green,
		FailureLight:   red,
		SuccessPolicy:  types.Policy(cfg.LEDs.Success),
		FailurePolicy:  types.Policy(cfg.LEDs.Failure),
		LEDHold:        cfg.LEDs.Hold,
		Calibrator:     cal,
		Notifiers:      notifiers,
		PrintErrors:    cfg.Misc.PrintErrors,
		ErrOut:         os.Stderr,
	})
	if err != nil {
		return engine.Summary{}, err
	}

	meta := metadata.Collect(cfg, time.Now())
	slog.Info("airpi: run metadata", "run_id", meta.RunID, "host", meta.Hostname, "board_serial", meta.BoardSerial)
	if err := eng.WriteMetadata(ctx, meta); err != nil {
		slog.Warn("airpi: some outputs did not record metadata", "err", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	var sum engine.Summary
	g.Go(func() error {
		defer cancelRun()
		var err error
		sum, err = eng.Run(gctx)
		return err
	})
	g.Go(func() error {
		current := cfg
		err := config.Watch(gctx, path, func(next *config.Config) {
			applyLive(cal, lim, current, next)
			current = next
		})
		if err != nil {
			slog.Warn("airpi: config hot reload disabled", "err", err)
		}
		return nil
	})
	return sum, g.Wait()
}

// liveSettings builds the calibration pipeline and limit checker, the two
// pieces of config that can change while running.
func liveSettings(cfg *config.Config) (*calibration.Pipeline, *limits.Checker, error) {
	funcs, err := calibration.ParseAll(cfg.Calibration)
	if err != nil {
		return nil, nil, err
	}
	lim, err := limits.New(limitRules(cfg.Limits))
	if err != nil {
		return nil, nil, err
	}
	return calibration.New(funcs), lim, nil
}

// applyLive swaps in next's calibration and limits and warns about changes
// that only take effect after a restart.
func applyLive(cal *calibration.Pipeline, lim *limits.Checker, current, next *config.Config) {
	if funcs, err := calibration.ParseAll(next.Calibration); err != nil {
		slog.Error("airpi: calibration not reloaded", "err", err)
	} else {
		cal.SetFunctions(funcs)
		slog.Info("airpi: calibration reloaded", "functions", len(funcs))
	}
	if err := lim.Set(limitRules(next.Limits)); err != nil {
		slog.Error("airpi: limits not reloaded", "err", err)
	} else {
		slog.Info("airpi: limits reloaded", "rules", len(next.Limits))
	}
	if sections := config.RestartRequired(current, next); len(sections) > 0 {
		slog.Warn("airpi: config changes need a restart to take effect", "sections", sections)
	}
}

func limitRules(m map[string]config.Limit) []limits.Rule {
	rules := make([]limits.Rule, 0, len(m))
	for name, l := range m {
		rules = append(rules, limits.Rule{Name: name, Value: l.Value, Unit: l.Unit, Op: l.Op})
	}
	return rules
}

func buildSensors(b *sensors.Builder, cfg *config.Config) ([]types.Sensor, error) {
	var out []types.Sensor
	for _, p := range cfg.Sensors {
		if !p.IsEnabled() {
			continue
		}
		s, err := b.Build(p)
		if err != nil {
			return nil, err
		}
		info := s.Info()
		slog.Info("airpi: sensor ready", "sensor", info.Sensor, "name", info.Name, "type", p.Type)
		out = append(out, s)
	}
	return out, nil
}

// buildSinks builds every enabled output in config order. An output that
// needs the internet is skipped while offline; any other failure is fatal.
func buildSinks(ctx context.Context, b *outputs.Builder, cfg *config.Config) ([]engine.Sink, error) {
	var sinks []engine.Sink
	for _, o := range cfg.Outputs {
		if !o.IsEnabled() {
			continue
		}
		out, err := b.Build(ctx, o)
		if errors.Is(err, outputs.ErrOffline) {
			slog.Warn("airpi: skipping output, no internet connection", "output", o.Label())
			continue
		}
		if err != nil {
			return nil, err
		}
		slog.Info("airpi: output ready", "output", o.Label(), "type", o.Type,
			"calibration", o.Calibration, "limits", o.Limits, "async", o.Async)
		sinks = append(sinks, engine.Sink{Output: out, Calibrate: o.Calibration, Metadata: o.Metadata})
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no outputs could be started")
	}
	return sinks, nil
}

func buildNotifiers(cfg *config.Config) ([]types.Notifier, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "airpi"
	}
	client := &http.Client{Timeout: notifyTimeout}
	var out []types.Notifier
	for _, p := range cfg.Notifications {
		if !p.IsEnabled() {
			continue
		}
		n, err := notify.New(p, host, client)
		if err != nil {
			return nil, err
		}
		slog.Info("airpi: notifier ready", "notifier", p.Label(), "type", p.Type)
		out = append(out, n)
	}
	return out, nil
}

// lights returns the success (green) and failure (red) lights.
func lights(cfg config.LEDs) (green, red types.IndicatorLight, err error) {
	g, err := indicator.New(cfg.GreenPin)
	if err != nil {
		return nil, nil, fmt.Errorf("green LED: %w", err)
	}
	r, err := indicator.New(cfg.RedPin)
	if err != nil {
		return nil, nil, fmt.Errorf("red LED: %w", err)
	}
	return indicator.Logged{Name: "green", Light: g}, indicator.Logged{Name: "red", Light: r}, nil
}
