// Package alert delivers urgent heartbeat notifications to an
// operator channel. Sinks are best-effort: a failed or rate-limited
// alert is logged and dropped, never retried into a queue.
package alert

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "vigil/pkg/logx"
)

// Sink sends one alert text. Implementations must be safe for
// concurrent use.
type Sink interface {
	Notify(ctx context.Context, text string) error
}

// Limited wraps a sink with a token bucket so a flapping check cannot
// flood the operator channel.
type Limited struct {
	sink Sink
	lim  *rate.Limiter
	log  logx.Logger
}

// Limit allows one alert per every, with the given burst.
func Limit(s Sink, every time.Duration, burst int, log logx.Logger) *Limited {
	if every <= 0 {
		every = 10 * time.Minute
	}
	if burst <= 0 {
		burst = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limited{
		sink: s,
		lim:  rate.NewLimiter(rate.Every(every), burst),
		log:  log,
	}
}

// Notify forwards to the wrapped sink unless the limiter denies, in
// which case the alert is dropped with a warning.
func (l *Limited) Notify(ctx context.Context, text string) error {
	if !l.lim.Allow() {
		l.log.Warn("alert dropped by rate limit", logx.String("text", snippet(text, 120)))
		return nil
	}
	return l.sink.Notify(ctx, text)
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
