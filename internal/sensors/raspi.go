package sensors

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const defaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"

// raspiSensor reports the board's own health: SoC temperature, CPU usage or
// memory usage.
type raspiSensor struct {
	scalar
	measurement string
	thermalPath string
}

func newRaspi(p config.Params) (*raspiSensor, error) {
	m, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	s := &raspiSensor{measurement: m, thermalPath: p.String("thermal_path", defaultThermalPath)}
	def := types.SensorInfo{Sensor: "Raspi"}
	switch m {
	case "temp":
		unit, symbol, err := temperatureInfo(p)
		if err != nil {
			return nil, err
		}
		def.Name, def.Unit, def.Symbol = "Temperature", unit, symbol
		def.Description = "Temperature of the Raspberry Pi SoC."
	case "cpu":
		def.Name, def.Unit, def.Symbol = "CPU_Usage", "Percent", "%"
		def.Description = "CPU utilisation across all cores."
	case "mem":
		def.Name, def.Unit, def.Symbol = "Memory_Usage", "Percent", "%"
		def.Description = "Share of physical memory in use."
	default:
		return nil, fmt.Errorf("unknown measurement %q (want temp, cpu or mem)", m)
	}
	s.info = infoFrom(p, def)
	// "unit" selects the temperature scale here, not a free-form label.
	if m == "temp" {
		s.info.Unit, s.info.Symbol = def.Unit, def.Symbol
	}
	return s, nil
}

func (s *raspiSensor) Read(ctx context.Context) (float64, error) {
	switch s.measurement {
	case "temp":
		data, err := os.ReadFile(s.thermalPath)
		if err != nil {
			return 0, fmt.Errorf("raspi: read thermal zone: %w", err)
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			return 0, fmt.Errorf("raspi: parse thermal zone: %w", err)
		}
		return celsiusTo(s.info.Unit, milli/1000), nil
	case "cpu":
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, fmt.Errorf("raspi: cpu percent: %w", err)
		}
		if len(pct) == 0 {
			return 0, ErrNoReading
		}
		return pct[0], nil
	default:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("raspi: virtual memory: %w", err)
		}
		return vm.UsedPercent, nil
	}
}
