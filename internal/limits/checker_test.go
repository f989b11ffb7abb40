package limits

import (
	"testing"

	"github.com/airpi/airpi/pkg/types"
)

func reading(name, unit string, v *float64) types.Reading {
	return types.Reading{Sensor: "MICS-2710", Name: name, Unit: unit, Value: v}
}

func TestBreach(t *testing.T) {
	c, err := New([]Rule{
		{Name: "Nitrogen_Dioxide", Value: 10000, Unit: "Ohms"},
		{Name: "Temperature", Value: 0, Op: "<"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		r    types.Reading
		want bool
	}{
		{"above threshold", reading("Nitrogen_Dioxide", "Ohms", types.Float(12000)), true},
		{"equal is not above", reading("Nitrogen_Dioxide", "Ohms", types.Float(10000)), false},
		{"below threshold", reading("Nitrogen_Dioxide", "Ohms", types.Float(9000)), false},
		{"name case-insensitive", reading("nitrogen_dioxide", "ohms", types.Float(12000)), true},
		{"unit mismatch", reading("Nitrogen_Dioxide", "kOhms", types.Float(12000)), false},
		{"custom operator", reading("Temperature", "Celsius", types.Float(-3)), true},
		{"missing value", reading("Nitrogen_Dioxide", "Ohms", nil), false},
		{"no rule", reading("Pressure", "Pa", types.Float(1e9)), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Breach(tc.r); got != tc.want {
				t.Errorf("Breach = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSet_RejectsUnknownOperator(t *testing.T) {
	if _, err := New([]Rule{{Name: "x", Op: "!="}}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestSet_ReplacesRules(t *testing.T) {
	c, _ := New([]Rule{{Name: "Volume", Value: 80}})
	r := reading("Volume", "dB", types.Float(90))
	if !c.Breach(r) {
		t.Fatal("expected breach before swap")
	}
	if err := c.Set([]Rule{{Name: "Volume", Value: 100}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c.Breach(r) {
		t.Error("expected no breach after raising the limit")
	}
	if got := len(c.Rules()); got != 1 {
		t.Errorf("Rules() len = %d, want 1", got)
	}
}

func TestBreach_NilChecker(t *testing.T) {
	var c *Checker
	if c.Breach(reading("Volume", "dB", types.Float(1))) {
		t.Error("nil checker must never report a breach")
	}
}
