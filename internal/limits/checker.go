package limits

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/airpi/airpi/pkg/types"
)

// Rule is one threshold.
type Rule struct {
	Name  string
	Value float64
	Unit  string
	Op    string // ">", ">=", "<", "<=", "=="; empty means ">"
}

// Checker is safe for concurrent use; rules may be swapped while outputs
// are checking readings.
type Checker struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// New returns a Checker holding rules. Invalid operators are rejected.
func New(rules []Rule) (*Checker, error) {
	c := &Checker{}
	if err := c.Set(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// Set replaces the rule set atomically.
func (c *Checker) Set(rules []Rule) error {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if r.Op == "" {
			r.Op = ">"
		}
		if !validOp(r.Op) {
			return fmt.Errorf("limits: %s: unknown operator %q", r.Name, r.Op)
		}
		m[strings.ToLower(r.Name)] = r
	}
	c.mu.Lock()
	c.rules = m
	c.mu.Unlock()
	return nil
}

// Rules returns the current rules sorted by name.
func (c *Checker) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Breach reports whether r exceeds its rule. Readings without a usable value
// never breach.
func (c *Checker) Breach(r types.Reading) bool {
	if c == nil || !r.Usable() {
		return false
	}
	c.mu.RLock()
	rule, ok := c.rules[strings.ToLower(r.Name)]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if rule.Unit != "" && !strings.EqualFold(rule.Unit, r.Unit) {
		return false
	}
	return compareFloat(*r.Value, rule.Op, rule.Value)
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==":
		return true
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
