package calibration

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Function is one compiled correction.
type Function struct {
	Name   string
	Expr   string
	Symbol string

	prog *vm.Program
}

// Compile builds a Function from an expression over x.
func Compile(name, expression, symbol string) (Function, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Function{}, fmt.Errorf("calibration: %s: empty expression", name)
	}
	prog, err := expr.Compile(expression, expr.Env(map[string]any{"x": 0.0}), expr.AsFloat64())
	if err != nil {
		return Function{}, fmt.Errorf("calibration: %s: %w", name, err)
	}
	return Function{Name: name, Expr: expression, Symbol: strings.TrimSpace(symbol), prog: prog}, nil
}

// Parse reads the "expression,symbol" form used in config files. The symbol
// is taken after the last comma so expressions may contain commas themselves.
func Parse(name, def string) (Function, error) {
	i := strings.LastIndex(def, ",")
	if i < 0 {
		return Function{}, fmt.Errorf("calibration: %s: want \"expression,symbol\", got %q", name, def)
	}
	return Compile(name, def[:i], def[i+1:])
}

// ParseAll parses a name → "expression,symbol" map. Results are sorted by
// name so error reporting is stable.
func ParseAll(defs map[string]string) ([]Function, error) {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Function, 0, len(defs))
	for _, n := range names {
		f, err := Parse(n, defs[n])
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Apply evaluates the function at x.
func (f Function) Apply(x float64) (float64, error) {
	out, err := expr.Run(f.prog, map[string]any{"x": x})
	if err != nil {
		return 0, fmt.Errorf("calibration: %s: %w", f.Name, err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("calibration: %s: result %T is not a number", f.Name, out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("calibration: %s: result is not finite", f.Name)
	}
	return v, nil
}
