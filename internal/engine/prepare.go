package engine

import (
	"context"
	"log/slog"
	"time"
)

// prepare applies wait-to-start and warm-up before the first cycle.
func (e *Engine) prepare(ctx context.Context) {
	if e.opts.WaitToStart {
		e.waitToStart(ctx, startDelay(e.clock.Now(), e.opts.Warmup))
	}
	if e.opts.Warmup > 0 && ctx.Err() == nil {
		e.warmup(ctx)
	}
}

// startDelay is the wait until the next minute boundary, shortened by the
// warm-up so sampling proper begins on the minute. When the warm-up is longer
// than the remaining part of this minute the target moves to the following
// minute.
func startDelay(now time.Time, warmup time.Duration) time.Duration {
	intoMinute := time.Duration(now.Second())*time.Second + time.Duration(now.Nanosecond())
	delay := time.Minute - intoMinute
	if delay > warmup {
		return delay - warmup
	}
	return delay + time.Minute - warmup
}

// waitToStart sleeps for delay, logging the remaining time every ten seconds.
func (e *Engine) waitToStart(ctx context.Context, delay time.Duration) {
	slog.Info("engine: sampling will start soon", "in", delay.Truncate(time.Second))
	remainder := delay % (10 * time.Second)
	remaining := delay - remainder
	if !e.sleep(ctx, remainder) {
		return
	}
	for remaining >= time.Second {
		slog.Info("engine: sampling will start soon", "in", remaining)
		if !e.sleep(ctx, 10*time.Second) {
			return
		}
		remaining -= 10 * time.Second
	}
}

// warmup reads every sensor repeatedly for the warm-up duration and discards
// the results, so sensors that need a few reads to settle do not produce
// failed readings in the first real cycle.
func (e *Engine) warmup(ctx context.Context) {
	slog.Info("engine: doing initialising runs", "duration", e.opts.Warmup)
	deadline := e.clock.Now().Add(e.opts.Warmup)
	for e.clock.Now().Before(deadline) {
		for _, s := range e.slots {
			if s.location != nil {
				_, _ = readLocation(ctx, s.location)
				continue
			}
			_, _ = readScalar(ctx, s.scalar)
		}
		if !e.sleep(ctx, warmupPause) {
			return
		}
	}
}
