package outputs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stoewer/go-strcase"
	"google.golang.org/protobuf/proto"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const defaultMetricPrefix = "airpi"

// textfile writes each batch as a node_exporter textfile collector file.
// The file is replaced atomically so the collector never reads a partial
// write.
type textfile struct {
	name   string
	path   string
	prefix string
	limits types.LimitChecker
}

func newTextfile(name string, p config.Params, lc types.LimitChecker) (*textfile, error) {
	path, err := p.RequiredString("path")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &textfile{
		name:   name,
		path:   path,
		prefix: p.String("prefix", defaultMetricPrefix),
		limits: lc,
	}, nil
}

func (o *textfile) Name() string { return o.name }

func (o *textfile) Write(_ context.Context, b *types.Batch) error {
	var buf bytes.Buffer
	for _, mf := range o.families(b) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return err
		}
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, o.path)
}

// families groups the batch into one gauge family per measurement name, in
// first-seen order. Missing values are left out.
func (o *textfile) families(b *types.Batch) []*dto.MetricFamily {
	var order []*dto.MetricFamily
	byName := make(map[string]*dto.MetricFamily)
	add := func(name, help string, value float64, labels ...string) {
		mf, ok := byName[name]
		if !ok {
			mf = &dto.MetricFamily{
				Name: proto.String(name),
				Help: proto.String(help),
				Type: dto.MetricType_GAUGE.Enum(),
			}
			byName[name] = mf
			order = append(order, mf)
		}
		m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(value)}}
		for i := 0; i+1 < len(labels); i += 2 {
			m.Label = append(m.Label, &dto.LabelPair{Name: proto.String(labels[i]), Value: proto.String(labels[i+1])})
		}
		mf.Metric = append(mf.Metric, m)
	}

	for _, r := range b.Readings {
		if loc := r.Location; loc != nil {
			add(o.metric("location_latitude"), "Latitude in degrees.", loc.Latitude, "sensor", r.Sensor)
			add(o.metric("location_longitude"), "Longitude in degrees.", loc.Longitude, "sensor", r.Sensor)
			if loc.Altitude != nil {
				add(o.metric("location_altitude_metres"), "Altitude in metres.", *loc.Altitude, "sensor", r.Sensor)
			}
			continue
		}
		if !r.Usable() {
			continue
		}
		help := r.Description
		if help == "" {
			help = r.Name
		}
		labels := []string{"sensor", r.Sensor, "unit", r.Unit, "reading_type", readingType(r)}
		add(o.metric(r.Name), help, *r.Value, labels...)
		if o.limits != nil {
			v := 0.0
			if o.limits.Breach(r) {
				v = 1
			}
			add(o.metric("limit_breached"), "1 when the reading exceeds its configured limit.", v,
				"sensor", r.Sensor, "name", r.Name)
		}
	}
	return order
}

// metric builds a valid metric name from the prefix and a measurement name.
func (o *textfile) metric(name string) string {
	n := strcase.SnakeCase(name)
	n = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, n)
	if o.prefix == "" {
		return n
	}
	return o.prefix + "_" + n
}
