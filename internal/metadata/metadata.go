// Package metadata collects the facts that describe one run: who ran it, on
// which board, when, and with what cadence.
package metadata

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// cpuinfoPath is where the board serial number lives on a Raspberry Pi.
var cpuinfoPath = "/proc/cpuinfo"

// Collect builds run metadata from cfg. start is the run start time.
func Collect(cfg *config.Config, start time.Time) types.Metadata {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return types.Metadata{
		RunID:           uuid.NewString(),
		StartTime:       start.UTC(),
		Operator:        cfg.Misc.Operator,
		BoardSerial:     BoardSerial(),
		Hostname:        host,
		SampleInterval:  cfg.Sampling.SampleInterval,
		AverageInterval: cfg.Sampling.AverageInterval,
		Warmup:          cfg.Sampling.Warmup,
		StopAfter:       cfg.Sampling.StopAfter,
	}
}

// BoardSerial returns the board serial number from /proc/cpuinfo, or
// "0000000000000000" when it cannot be read (not a Pi).
func BoardSerial() string {
	f, err := os.Open(cpuinfoPath)
	if err != nil {
		return "0000000000000000"
	}
	defer f.Close()
	if s := parseSerial(f); s != "" {
		return s
	}
	return "0000000000000000"
}

func parseSerial(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "Serial" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
