package outputs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const printTimeLayout = "2006-01-02 15:04:05.000000"

var breachColor = color.New(color.FgRed, color.Bold)

// printOutput writes each batch to a terminal.
type printOutput struct {
	name   string
	format string // "table" | "csv"
	limits types.LimitChecker

	mu sync.Mutex
	w  io.Writer
}

func newPrint(name string, p config.Params, w io.Writer, lc types.LimitChecker) (*printOutput, error) {
	format := p.String("format", "table")
	if format != "table" && format != "csv" {
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return &printOutput{name: name, format: format, limits: lc, w: w}, nil
}

func (o *printOutput) Name() string { return o.name }

func (o *printOutput) Write(_ context.Context, b *types.Batch) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format == "csv" {
		return o.writeLine(b)
	}
	return o.writeTable(b)
}

func (o *printOutput) writeTable(b *types.Batch) error {
	t := table.NewWriter()
	t.SetTitle("Time: " + b.Time.Format(printTimeLayout))
	t.AppendHeader(table.Row{"Name", "Value", "Symbol", "Type", ""})
	t.SetStyle(table.StyleLight)
	for _, r := range b.Readings {
		if loc := r.Location; loc != nil {
			t.AppendRow(table.Row{"Loc - Latitude", fmt.Sprintf("%.5f", loc.Latitude), "deg"})
			t.AppendRow(table.Row{"Loc - Longitude", fmt.Sprintf("%.5f", loc.Longitude), "deg"})
			t.AppendRow(table.Row{"Loc - Altitude", optional(loc.Altitude), "m"})
			t.AppendRow(table.Row{"Loc - Disp./Exp.", title(loc.Disposition) + ", " + title(loc.Exposure)})
			continue
		}
		mark := ""
		if breached(o.limits, r) {
			mark = breachColor.Sprint("BREACH!")
		}
		t.AppendRow(table.Row{
			strings.ReplaceAll(r.Name, "_", " "),
			optional(r.Value),
			r.Symbol,
			readingType(r),
			mark,
		})
	}
	_, err := fmt.Fprintln(o.w, t.Render())
	return err
}

// writeLine prints one csv line: time, values in order, then the names of
// any breaching readings.
func (o *printOutput) writeLine(b *types.Batch) error {
	fields := []string{b.Time.Format(printTimeLayout)}
	var breaches []string
	for _, r := range b.Readings {
		if loc := r.Location; loc != nil {
			fields = append(fields, locationFields(loc)...)
			continue
		}
		fields = append(fields, optional(r.Value))
		if breached(o.limits, r) {
			breaches = append(breaches, r.Name)
		}
	}
	if len(breaches) > 0 {
		fields = append(fields, "BREACHES: "+strings.Join(breaches, ","))
	}
	cw := csv.NewWriter(o.w)
	if err := cw.Write(fields); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (o *printOutput) WriteMetadata(_ context.Context, meta types.Metadata) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := table.NewWriter()
	t.SetTitle("Metadata")
	t.SetStyle(table.StyleLight)
	for _, kv := range meta.Pairs() {
		t.AppendRow(table.Row{kv[0], kv[1]})
	}
	_, err := fmt.Fprintln(o.w, t.Render())
	return err
}

// --- formatting helpers shared by the text outputs ---------------------------

// optional formats v with two decimals, or "-" when missing.
func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func readingType(r types.Reading) string {
	if r.ReadingType == "" {
		return "sample"
	}
	return r.ReadingType
}

func locationFields(loc *types.Location) []string {
	return []string{
		fmt.Sprintf("%.6f", loc.Latitude),
		fmt.Sprintf("%.6f", loc.Longitude),
		optional(loc.Altitude),
		loc.Exposure,
		loc.Disposition,
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
