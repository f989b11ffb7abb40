package sensors

import (
	"context"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// promSensor reads one metric from a Prometheus exposition endpoint, such as
// a node exporter on a neighbouring station or a networked particle counter.
// Matching series are summed.
type promSensor struct {
	scalar
	url    string
	metric string
	labels map[string]string
	client *http.Client
}

func newPromSensor(p config.Params, client *http.Client) (*promSensor, error) {
	url, err := p.RequiredString("url")
	if err != nil {
		return nil, err
	}
	metric, err := p.RequiredString("metric")
	if err != nil {
		return nil, err
	}
	labels, err := p.StringMap("labels")
	if err != nil {
		return nil, err
	}
	return &promSensor{
		scalar: scalar{info: infoFrom(p, types.SensorInfo{Sensor: "Prometheus", Name: metric})},
		url:    url,
		metric: metric,
		labels: labels,
		client: client,
	}, nil
}

func (s *promSensor) Read(ctx context.Context) (float64, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.url)
	if err != nil {
		return 0, fmt.Errorf("prometheus %s: %w", s.url, err)
	}
	mf, ok := mfs[s.metric]
	if !ok {
		return 0, fmt.Errorf("prometheus %s: metric %q not exposed", s.url, s.metric)
	}
	v, n := sumFamily(mf, s.labels)
	if n == 0 {
		return 0, fmt.Errorf("prometheus %s: no %q series match %v", s.url, s.metric, s.labels)
	}
	return v, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a text exposition. A partial parse with at least one
// family is accepted.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds the counter, gauge and untyped values of every series whose
// labels include all of want. It also returns how many series matched.
func sumFamily(mf *dto.MetricFamily, want map[string]string) (float64, int) {
	var (
		total float64
		n     int
	)
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, want) {
			continue
		}
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		default:
			continue
		}
		n++
	}
	return total, n
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
