package sensors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Default bounded worker settings.
const (
	DefaultReadTimeout = 2 * time.Second
	DefaultMinInterval = 2 * time.Second
)

var (
	// ErrTimeout is returned when a read did not finish in time and no
	// earlier value is cached.
	ErrTimeout = errors.New("sensors: read timed out")
	// ErrNoReading is returned when a sensor has nothing to report yet.
	ErrNoReading = errors.New("sensors: no reading available")
)

type outcome[T any] struct {
	v   T
	err error
}

// bounded runs a blocking read function with a time limit and a rate limit.
// At most one read is in flight at a time; callers that arrive while one is
// running wait on it rather than starting another.
type bounded[T any] struct {
	read        func(context.Context) (T, error)
	timeout     time.Duration
	minInterval time.Duration
	clock       clock.Clock

	mu       sync.Mutex
	cached   T
	hasCache bool
	lastOK   time.Time
	inflight chan outcome[T]
}

func newBounded[T any](read func(context.Context) (T, error), timeout, minInterval time.Duration, clk clock.Clock) *bounded[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &bounded[T]{read: read, timeout: timeout, minInterval: minInterval, clock: clk}
}

// Read returns a fresh value, the cached value when inside the rate limit or
// after a timeout, or an error when nothing usable exists.
func (b *bounded[T]) Read(ctx context.Context) (T, error) {
	b.mu.Lock()
	if b.hasCache && b.clock.Since(b.lastOK) < b.minInterval {
		v := b.cached
		b.mu.Unlock()
		return v, nil
	}
	ch := b.inflight
	if ch == nil {
		ch = make(chan outcome[T], 1)
		b.inflight = ch
		go b.work(ch)
	}
	b.mu.Unlock()

	t := b.clock.Timer(b.timeout)
	defer t.Stop()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-t.C:
		return b.fallback(ErrTimeout)
	case <-ctx.Done():
		return b.fallback(ctx.Err())
	}
}

// work performs one read. The result updates the cache even when the caller
// has already given up, so a late answer is not wasted.
func (b *bounded[T]) work(ch chan outcome[T]) {
	v, err := b.read(context.Background())

	b.mu.Lock()
	if err == nil {
		b.cached = v
		b.hasCache = true
		b.lastOK = b.clock.Now()
	}
	b.inflight = nil
	b.mu.Unlock()

	ch <- outcome[T]{v: v, err: err}
}

func (b *bounded[T]) fallback(err error) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasCache {
		return b.cached, nil
	}
	var zero T
	return zero, err
}
