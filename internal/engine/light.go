package engine

import (
	"fmt"
	"log/slog"

	"github.com/airpi/airpi/pkg/types"
)

// light applies a Policy to an IndicatorLight. A nil light is a no-op.
type light struct {
	dev    types.IndicatorLight
	policy types.Policy
	hasLit bool
}

func newLight(dev types.IndicatorLight, policy types.Policy) *light {
	return &light{dev: dev, policy: policy}
}

// signal turns the light on if the policy allows it for this cycle.
func (l *light) signal() {
	if l.dev == nil {
		return
	}
	switch l.policy {
	case types.PolicyAll, types.PolicyConstant:
	case types.PolicyFirst:
		if l.hasLit {
			return
		}
	default:
		return
	}
	if err := l.dev.On(); err != nil {
		slog.Warn("engine: light on failed", "err", err)
		return
	}
	l.hasLit = true
}

// release turns the light off after the hold unless the policy keeps it lit.
func (l *light) release() {
	if l.dev == nil || l.policy == types.PolicyConstant {
		return
	}
	if err := l.dev.Off(); err != nil {
		slog.Warn("engine: light off failed", "err", err)
	}
}

// off turns the light off unconditionally, for shutdown.
func (l *light) off() error {
	if l.dev == nil {
		return nil
	}
	if err := l.dev.Off(); err != nil {
		return fmt.Errorf("engine: light off: %w", err)
	}
	return nil
}
