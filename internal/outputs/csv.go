package outputs

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const fileDateLayout = "20060102-1504"

// csvOutput appends one row per batch to a file. The header row is written
// before the first batch and reflects that batch's readings.
type csvOutput struct {
	name   string
	path   string
	limits types.LimitChecker

	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	header bool
}

func newCSV(name string, p config.Params, host string, now time.Time, lc types.LimitChecker) (*csvOutput, error) {
	file, err := p.RequiredString("file")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(p.String("dir", "."), expandFilename(file, host, now))
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &csvOutput{name: name, path: path, limits: lc, f: f, w: csv.NewWriter(f)}, nil
}

// expandFilename substitutes the <date> and <hostname> placeholders.
func expandFilename(name, host string, now time.Time) string {
	name = strings.ReplaceAll(name, "<date>", now.Format(fileDateLayout))
	return strings.ReplaceAll(name, "<hostname>", host)
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (o *csvOutput) Name() string { return o.name }

// Path returns the expanded file path.
func (o *csvOutput) Path() string { return o.path }

func (o *csvOutput) Write(_ context.Context, b *types.Batch) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.header {
		if err := o.w.Write(o.headerRow(b)); err != nil {
			return err
		}
		o.header = true
	}
	row := []string{
		b.Time.Format("2006-01-02 15:04:05.000000"),
		strconv.FormatInt(b.Time.Unix(), 10),
	}
	var breaches []string
	for _, r := range b.Readings {
		if loc := r.Location; loc != nil {
			row = append(row, locationFields(loc)...)
			continue
		}
		if r.Value == nil {
			row = append(row, "")
		} else {
			row = append(row, strconv.FormatFloat(*r.Value, 'f', -1, 64))
		}
		if breached(o.limits, r) {
			breaches = append(breaches, r.Name)
		}
	}
	if o.limits != nil {
		row = append(row, strings.Join(breaches, ";"))
	}
	return o.flush(row)
}

func (o *csvOutput) headerRow(b *types.Batch) []string {
	h := []string{"Date and time", "Unix time"}
	for _, r := range b.Readings {
		if r.IsLocation() {
			h = append(h, "Latitude (deg)", "Longitude (deg)", "Altitude (m)", "Exposure", "Disposition")
			continue
		}
		h = append(h, fmt.Sprintf("%s %s (%s) (%s)", r.Sensor, r.Name, r.Symbol, readingType(r)))
	}
	if o.limits != nil {
		h = append(h, "Limit breaches")
	}
	return h
}

// flush writes row and syncs so a power cut loses at most the current row.
func (o *csvOutput) flush(row []string) error {
	if err := o.w.Write(row); err != nil {
		return err
	}
	o.w.Flush()
	if err := o.w.Error(); err != nil {
		return err
	}
	return o.f.Sync()
}

func (o *csvOutput) WriteMetadata(_ context.Context, meta types.Metadata) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, kv := range meta.Pairs() {
		if err := o.w.Write(kv[:]); err != nil {
			return err
		}
	}
	o.w.Flush()
	return o.w.Error()
}

func (o *csvOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w.Flush()
	return o.f.Close()
}
