package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// ErrOffline is returned by Build for a needs_internet output when the
// connectivity check fails.
var ErrOffline = errors.New("no internet connection")

const (
	defaultBufferSize   = 64
	connectivityAddr    = "www.google.com:80"
	connectivityTimeout = 5 * time.Second
)

// Builder constructs outputs from config entries and owns their lifetime.
type Builder struct {
	// Limits marks breaching readings on outputs with limits enabled.
	Limits types.LimitChecker
	// Averager backs the dashboard's /api/v1/average endpoint.
	Averager types.Averager
	Stdout   io.Writer
	Hostname string
	Now      func() time.Time
	// Online is the needs_internet check.
	Online func(ctx context.Context) bool

	mu      sync.Mutex
	closers []io.Closer
}

// NewBuilder returns a Builder writing to os.Stdout and checking
// connectivity by dialling a well-known host.
func NewBuilder(limits types.LimitChecker, avg types.Averager) *Builder {
	host, _ := os.Hostname()
	return &Builder{
		Limits:   limits,
		Averager: avg,
		Stdout:   os.Stdout,
		Hostname: host,
		Now:      time.Now,
		Online:   dialOnline,
	}
}

// Build returns the output for o.
func (b *Builder) Build(ctx context.Context, o config.Output) (types.Output, error) {
	if o.NeedsInternet && !b.Online(ctx) {
		return nil, fmt.Errorf("output %q: %w", o.Label(), ErrOffline)
	}
	out, err := b.build(o)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", o.Label(), err)
	}
	if o.Async {
		size := o.BufferSize
		if size <= 0 {
			size = defaultBufferSize
		}
		out = NewAsync(out, size)
	}
	if c, ok := out.(io.Closer); ok {
		b.mu.Lock()
		b.closers = append(b.closers, c)
		b.mu.Unlock()
	}
	return out, nil
}

func (b *Builder) build(o config.Output) (types.Output, error) {
	var lc types.LimitChecker
	if o.Limits {
		lc = b.Limits
	}
	name := o.Label()
	switch o.Type {
	case "print":
		return newPrint(name, o.Params, b.Stdout, lc)
	case "csv":
		return newCSV(name, o.Params, b.Hostname, b.Now(), lc)
	case "json":
		return newJSONLines(name, o.Params, b.Hostname, b.Now(), lc)
	case "prometheus":
		return newTextfile(name, o.Params, lc)
	case "mqtt":
		return newMQTT(name, o.Params, b.Hostname, lc)
	case "kafka":
		return newKafka(name, o.Params, b.Hostname, lc)
	case "dashboard":
		return newDashboard(name, o.Params, b.Averager, lc)
	default:
		return nil, fmt.Errorf("unsupported type %q", o.Type)
	}
}

// Close closes every output built so far, async buffers first so they can
// flush into their inner outputs.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	b.closers = nil
	return err
}

func dialOnline(ctx context.Context) bool {
	d := net.Dialer{Timeout: connectivityTimeout}
	conn, err := d.DialContext(ctx, "tcp", connectivityAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// --- shared record shape ----------------------------------------------------

// record is a reading as written by the structured outputs. Non-finite
// values are written as missing.
type record struct {
	types.Reading `msgpack:",inline"`
	Breach        bool `json:"limitBreached,omitempty" msgpack:"limitBreached,omitempty"`
}

// message is the envelope for one batch on the structured outputs.
type message struct {
	Time     time.Time `json:"time" msgpack:"time"`
	Host     string    `json:"host,omitempty" msgpack:"host,omitempty"`
	Readings []record  `json:"readings" msgpack:"readings"`
}

func newMessage(b *types.Batch, host string, lc types.LimitChecker) message {
	return message{Time: b.Time, Host: host, Readings: records(b, lc)}
}

func records(b *types.Batch, lc types.LimitChecker) []record {
	out := make([]record, 0, len(b.Readings))
	for _, r := range b.Readings {
		if r.Value != nil && (math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0)) {
			r.Value = nil
		}
		out = append(out, record{Reading: r, Breach: breached(lc, r)})
	}
	return out
}

func breached(lc types.LimitChecker, r types.Reading) bool {
	return lc != nil && lc.Breach(r)
}

// encode marshals v as "json" (default) or "msgpack".
func encode(encoding string, v any) ([]byte, error) {
	switch encoding {
	case "", "json":
		return json.Marshal(v)
	case "msgpack":
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func validEncoding(encoding string) error {
	_, err := encode(encoding, nil)
	return err
}
