package outputs

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/airpi/airpi/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	flushTimeout      = 5 * time.Second
)

// Async decouples a slow or flaky output from the sampling cycle. Write is
// non-blocking; when the buffer is full the oldest batch is evicted. A
// background goroutine drains the buffer into the wrapped output, retrying
// a failed batch with exponential backoff until it succeeds or the Async is
// closed.
type Async struct {
	out types.Output
	buf chan *types.Batch
	bo  *backoff

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewAsync wraps out with a buffer of size batches and starts draining it.
func NewAsync(out types.Output, size int) *Async {
	return newAsync(out, size, backoffInitial)
}

func newAsync(out types.Output, size int, initial time.Duration) *Async {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		out:    out,
		buf:    make(chan *types.Batch, size),
		bo:     &backoff{initial: initial, current: initial},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

func (a *Async) Name() string { return a.out.Name() }

// Write enqueues b and always returns nil.
func (a *Async) Write(_ context.Context, b *types.Batch) error {
	select {
	case a.buf <- b:
	default:
		select {
		case <-a.buf:
			slog.Warn("outputs: buffer full, evicted oldest batch",
				"output", a.out.Name(), "buffer_cap", cap(a.buf))
		default:
		}
		select {
		case a.buf <- b:
		default:
		}
	}
	return nil
}

// WriteMetadata is passed straight through to the wrapped output.
func (a *Async) WriteMetadata(ctx context.Context, meta types.Metadata) error {
	if mw, ok := a.out.(types.MetadataWriter); ok {
		return mw.WriteMetadata(ctx, meta)
	}
	return nil
}

// Pending returns the number of buffered batches.
func (a *Async) Pending() int { return len(a.buf) }

// Close stops the drain loop, gives what is still buffered one attempt each,
// then closes the wrapped output if it is an io.Closer.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		<-a.done
		a.flush()
		if c, ok := a.out.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-a.buf:
			if !a.deliver(ctx, b) {
				return
			}
		}
	}
}

// deliver retries b until it is written. It returns false if ctx ended
// first; b is then lost.
func (a *Async) deliver(ctx context.Context, b *types.Batch) bool {
	for {
		err := a.out.Write(ctx, b)
		if err == nil {
			a.bo.reset()
			slog.Debug("outputs: batch delivered", "output", a.out.Name())
			return true
		}
		wait := a.bo.next()
		slog.Error("outputs: write failed, will retry",
			"output", a.out.Name(),
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (a *Async) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case b := <-a.buf:
			if err := a.out.Write(ctx, b); err != nil {
				slog.Warn("outputs: dropping buffered batch at shutdown", "output", a.out.Name(), "err", err)
			}
		default:
			return
		}
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

// next returns the current backoff duration with ±25% jitter and advances
// the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
