package outputs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fatih/color"
	"github.com/prometheus/common/expfmt"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// --- helpers ------------------------------------------------------------------

var batchTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

type limitFunc func(types.Reading) bool

func (f limitFunc) Breach(r types.Reading) bool { return f(r) }

// hotLimit breaches Temperature readings above 25.
var hotLimit = limitFunc(func(r types.Reading) bool {
	return r.Name == "Temperature" && r.Value != nil && *r.Value > 25
})

func testBatch() *types.Batch {
	return &types.Batch{
		Time: batchTime,
		Readings: []types.Reading{
			{Sensor: "DS18B20", Name: "Temperature", Value: types.Float(30), Unit: "Celsius", Symbol: "C", ReadingType: "sample"},
			{Sensor: "HTU21D", Name: "Relative_Humidity", Value: types.Float(55.25), Unit: "Percent", Symbol: "%", ReadingType: "sample"},
			{Sensor: "Raspi", Name: "CPU", Value: nil, Unit: "Percent", Symbol: "%", ReadingType: "sample"},
			{Sensor: "GPS", Name: "Location", Location: &types.Location{
				Latitude: 53.36, Longitude: -6.5, Altitude: types.Float(40), Disposition: "fixed", Exposure: "outdoor",
			}},
		},
	}
}

func params(kv ...any) config.Params {
	p := config.Params{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return p
}

func testMeta() types.Metadata {
	return types.Metadata{
		RunID:          "run-1",
		StartTime:      batchTime,
		Operator:       "alice",
		Hostname:       "airpi-01",
		SampleInterval: 5 * time.Second,
	}
}

// --- print ----------------------------------------------------------------------

func TestPrint_Table(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	o, err := newPrint("print", params("format", "table"), &buf, hotLimit)
	require.NoError(t, err)

	require.NoError(t, o.Write(context.Background(), testBatch()))
	out := buf.String()
	assert.Contains(t, out, "2024-05-01 12:30:00")
	assert.Contains(t, out, "Relative Humidity")
	assert.Contains(t, out, "55.25")
	assert.Contains(t, out, "BREACH!")
	assert.Contains(t, out, "Loc - Latitude")
	assert.Contains(t, out, "Fixed, Outdoor")
	assert.Equal(t, 1, strings.Count(out, "BREACH!"))
}

func TestPrint_TableWithoutLimits(t *testing.T) {
	var buf bytes.Buffer
	o, err := newPrint("print", params(), &buf, nil)
	require.NoError(t, err)
	require.NoError(t, o.Write(context.Background(), testBatch()))
	assert.NotContains(t, buf.String(), "BREACH!")
}

func TestPrint_CSVLine(t *testing.T) {
	var buf bytes.Buffer
	o, err := newPrint("print", params("format", "csv"), &buf, hotLimit)
	require.NoError(t, err)
	require.NoError(t, o.Write(context.Background(), testBatch()))

	rec, err := csv.NewReader(&buf).Read()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-05-01 12:30:00.000000",
		"30.00", "55.25", "-",
		"53.360000", "-6.500000", "40.00", "outdoor", "fixed",
		"BREACHES: Temperature",
	}, rec)
}

func TestPrint_UnknownFormat(t *testing.T) {
	_, err := newPrint("print", params("format", "xml"), &bytes.Buffer{}, nil)
	assert.Error(t, err)
}

func TestPrint_Metadata(t *testing.T) {
	var buf bytes.Buffer
	o, err := newPrint("print", params(), &buf, nil)
	require.NoError(t, err)
	require.NoError(t, o.WriteMetadata(context.Background(), testMeta()))
	assert.Contains(t, buf.String(), "Operator")
	assert.Contains(t, buf.String(), "alice")
	assert.Contains(t, buf.String(), "5s")
}

// --- csv ----------------------------------------------------------------------

func TestExpandFilename(t *testing.T) {
	got := expandFilename("airpi-<hostname>-<date>.csv", "pi1", batchTime)
	assert.Equal(t, "airpi-pi1-20240501-1230.csv", got)
}

func TestCSV_HeaderOnceThenRows(t *testing.T) {
	dir := t.TempDir()
	o, err := newCSV("csv", params("dir", dir, "file", "<hostname>.csv"), "pi1", batchTime, hotLimit)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pi1.csv"), o.Path())

	ctx := context.Background()
	require.NoError(t, o.WriteMetadata(ctx, testMeta()))
	require.NoError(t, o.Write(ctx, testBatch()))
	require.NoError(t, o.Write(ctx, testBatch()))
	require.NoError(t, o.Close())

	f, err := os.Open(o.Path())
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	meta := len(testMeta().Pairs())
	require.Len(t, rows, meta+3)
	assert.Equal(t, []string{"Run ID", "run-1"}, rows[0])

	header := rows[meta]
	assert.Equal(t, "Date and time", header[0])
	assert.Equal(t, "DS18B20 Temperature (C) (sample)", header[2])
	assert.Contains(t, header, "Latitude (deg)")
	assert.Equal(t, "Limit breaches", header[len(header)-1])

	row := rows[meta+1]
	assert.Equal(t, "1714566600", row[1])
	assert.Equal(t, "30", row[2])
	assert.Equal(t, "55.25", row[3])
	assert.Equal(t, "", row[4], "failed reading is an empty cell")
	assert.Equal(t, "Temperature", row[len(row)-1])
	assert.Equal(t, rows[meta+1], rows[meta+2])
}

func TestCSV_MissingFileParam(t *testing.T) {
	_, err := newCSV("csv", params(), "pi1", batchTime, nil)
	var mp *config.MissingParamError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "file", mp.Key)
}

// --- json lines -------------------------------------------------------------

func TestJSONLines(t *testing.T) {
	dir := t.TempDir()
	o, err := newJSONLines("json", params("dir", dir, "file", "out.jsonl"), "pi1", batchTime, hotLimit)
	require.NoError(t, err)

	b := testBatch()
	b.Readings[1].Value = types.Float(types.NoData)
	ctx := context.Background()
	require.NoError(t, o.WriteMetadata(ctx, testMeta()))
	require.NoError(t, o.Write(ctx, b))
	require.NoError(t, o.Close())

	f, err := os.Open(filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)

	require.True(t, sc.Scan())
	var meta struct {
		Metadata types.Metadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &meta))
	assert.Equal(t, "run-1", meta.Metadata.RunID)

	require.True(t, sc.Scan())
	var msg struct {
		Time     time.Time `json:"time"`
		Host     string    `json:"host"`
		Readings []struct {
			Name          string          `json:"name"`
			Value         *float64        `json:"value"`
			LimitBreached bool            `json:"limitBreached"`
			Location      *types.Location `json:"location"`
		} `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
	assert.True(t, msg.Time.Equal(batchTime))
	assert.Equal(t, "pi1", msg.Host)
	require.Len(t, msg.Readings, 4)
	assert.True(t, msg.Readings[0].LimitBreached)
	assert.Nil(t, msg.Readings[1].Value, "NoData is written as missing")
	assert.Nil(t, msg.Readings[2].Value)
	require.NotNil(t, msg.Readings[3].Location)
	assert.Equal(t, 53.36, msg.Readings[3].Location.Latitude)
	assert.False(t, sc.Scan())
}

// --- prometheus textfile ----------------------------------------------------

func TestTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airpi.prom")
	o, err := newTextfile("prom", params("path", path), hotLimit)
	require.NoError(t, err)
	require.NoError(t, o.Write(context.Background(), testBatch()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var p expfmt.TextParser
	fams, err := p.TextToMetricFamilies(f)
	require.NoError(t, err)

	temp, ok := fams["airpi_temperature"]
	require.True(t, ok, "families: %v", keys(fams))
	require.Len(t, temp.Metric, 1)
	assert.Equal(t, 30.0, temp.Metric[0].GetGauge().GetValue())

	_, ok = fams["airpi_relative_humidity"]
	assert.True(t, ok)
	_, ok = fams["airpi_cpu"]
	assert.False(t, ok, "missing values are not exported")

	lat := fams["airpi_location_latitude"]
	require.NotNil(t, lat)
	assert.Equal(t, 53.36, lat.Metric[0].GetGauge().GetValue())

	breach := fams["airpi_limit_breached"]
	require.NotNil(t, breach)
	require.Len(t, breach.Metric, 2)
	assert.Equal(t, 1.0, breach.Metric[0].GetGauge().GetValue())
	assert.Equal(t, 0.0, breach.Metric[1].GetGauge().GetValue())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestTextfile_MetricName(t *testing.T) {
	o := &textfile{prefix: "airpi"}
	assert.Equal(t, "airpi_air_quality", o.metric("Air Quality"))
	assert.Equal(t, "airpi_relative_humidity", o.metric("Relative_Humidity"))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// --- mqtt -----------------------------------------------------------------------

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu   sync.Mutex
	sent []published
	err  error
	disc bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic, qos, retained, payload.([]byte)})
	return newDoneToken(f.err)
}

func (f *fakeMQTT) Disconnect(uint) { f.disc = true }

func TestMQTT_PublishesJSON(t *testing.T) {
	o, err := mqttFromParams("mqtt", params("topic", "airpi/<hostname>", "qos", 1, "retained", true), "pi1", hotLimit)
	require.NoError(t, err)
	fake := &fakeMQTT{}
	o.client = fake

	require.NoError(t, o.Write(context.Background(), testBatch()))
	require.Len(t, fake.sent, 1)
	got := fake.sent[0]
	assert.Equal(t, "airpi/pi1", got.topic)
	assert.Equal(t, byte(1), got.qos)
	assert.True(t, got.retained)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(got.payload, &msg))
	assert.Equal(t, "pi1", msg["host"])
	readings := msg["readings"].([]any)
	assert.Equal(t, true, readings[0].(map[string]any)["limitBreached"])

	require.NoError(t, o.WriteMetadata(context.Background(), testMeta()))
	assert.Equal(t, "airpi/pi1/metadata", fake.sent[1].topic)
	assert.True(t, fake.sent[1].retained)

	require.NoError(t, o.Close())
	assert.True(t, fake.disc)
}

func TestMQTT_Msgpack(t *testing.T) {
	o, err := mqttFromParams("mqtt", params("topic", "t", "encoding", "msgpack"), "pi1", nil)
	require.NoError(t, err)
	fake := &fakeMQTT{}
	o.client = fake
	require.NoError(t, o.Write(context.Background(), testBatch()))

	var msg message
	require.NoError(t, msgpack.Unmarshal(fake.sent[0].payload, &msg))
	require.Len(t, msg.Readings, 4)
	assert.Equal(t, "Temperature", msg.Readings[0].Name)
	assert.Equal(t, 30.0, *msg.Readings[0].Value)
}

func TestMQTT_PublishError(t *testing.T) {
	o, err := mqttFromParams("mqtt", params("topic", "t"), "pi1", nil)
	require.NoError(t, err)
	o.client = &fakeMQTT{err: errors.New("not connected")}
	assert.EqualError(t, o.Write(context.Background(), testBatch()), "not connected")
}

func TestMQTT_BadParams(t *testing.T) {
	_, err := mqttFromParams("mqtt", params("topic", "t", "qos", 3), "pi1", nil)
	assert.Error(t, err)
	_, err = mqttFromParams("mqtt", params("topic", "t", "encoding", "xml"), "pi1", nil)
	assert.Error(t, err)
	_, err = mqttFromParams("mqtt", params(), "pi1", nil)
	var mp *config.MissingParamError
	assert.ErrorAs(t, err, &mp)
}

// --- kafka ----------------------------------------------------------------------

type fakeKafka struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { f.closed = true; return nil }

func TestKafka_Write(t *testing.T) {
	o, err := newKafka("kafka", params("brokers", "localhost:9092", "topic", "airpi"), "pi1", nil)
	require.NoError(t, err)
	fake := &fakeKafka{}
	o.writer = fake

	ctx := context.Background()
	require.NoError(t, o.WriteMetadata(ctx, testMeta()))
	require.NoError(t, o.Write(ctx, testBatch()))
	require.Len(t, fake.msgs, 2)

	assert.Equal(t, "pi1", string(fake.msgs[1].Key))
	assert.Equal(t, "batch", string(fake.msgs[1].Headers[0].Value))
	assert.Equal(t, "metadata", string(fake.msgs[0].Headers[0].Value))
	assert.True(t, fake.msgs[1].Time.Equal(batchTime))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(fake.msgs[1].Value, &msg))
	assert.Len(t, msg["readings"], 4)

	require.NoError(t, o.Close())
	assert.True(t, fake.closed)
}

func TestKafka_RequiresBrokers(t *testing.T) {
	_, err := newKafka("kafka", params("topic", "airpi"), "pi1", nil)
	var mp *config.MissingParamError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "brokers", mp.Key)
}

// --- builder --------------------------------------------------------------------

func output(typ string, p config.Params) config.Output {
	return config.Output{Plugin: config.Plugin{Type: typ, Params: p}}
}

func TestBuilder_BuildsAndCloses(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(hotLimit, nil)
	b.Stdout = &buf
	b.Hostname = "pi1"

	o := output("print", params("format", "csv"))
	o.Limits = true
	out, err := b.Build(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "print", out.Name())
	require.NoError(t, out.Write(context.Background(), testBatch()))
	assert.Contains(t, buf.String(), "BREACHES: Temperature")

	out, err = b.Build(context.Background(), output("csv", params("dir", t.TempDir(), "file", "x.csv")))
	require.NoError(t, err)
	assert.IsType(t, &csvOutput{}, out)
	assert.NoError(t, b.Close())
}

func TestBuilder_LimitsOnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(hotLimit, nil)
	b.Stdout = &buf
	out, err := b.Build(context.Background(), output("print", params("format", "csv")))
	require.NoError(t, err)
	require.NoError(t, out.Write(context.Background(), testBatch()))
	assert.NotContains(t, buf.String(), "BREACHES")
}

func TestBuilder_UnknownType(t *testing.T) {
	_, err := NewBuilder(nil, nil).Build(context.Background(), output("xively", nil))
	assert.ErrorContains(t, err, "unsupported type")
}

func TestBuilder_NeedsInternet(t *testing.T) {
	b := NewBuilder(nil, nil)
	b.Online = func(context.Context) bool { return false }
	o := output("print", nil)
	o.NeedsInternet = true
	_, err := b.Build(context.Background(), o)
	assert.ErrorIs(t, err, ErrOffline)

	b.Online = func(context.Context) bool { return true }
	b.Stdout = &bytes.Buffer{}
	_, err = b.Build(context.Background(), o)
	assert.NoError(t, err)
}

func TestBuilder_AsyncWraps(t *testing.T) {
	b := NewBuilder(nil, nil)
	b.Stdout = &bytes.Buffer{}
	o := output("print", nil)
	o.Async = true
	out, err := b.Build(context.Background(), o)
	require.NoError(t, err)
	a, ok := out.(*Async)
	require.True(t, ok)
	assert.Equal(t, defaultBufferSize, cap(a.buf))
	assert.NoError(t, b.Close())
}
