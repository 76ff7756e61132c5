package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
)

// GoroutineCountCheck fails when more than threshold goroutines run, which
// usually means leaked subscriptions or streams.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a recent GC pause exceeded threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings p.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ConnectionCheck fails once the connection reports itself closed. It suits
// clients without a ping, such as an AMQP connection.
func ConnectionCheck(isClosed func() bool) CheckFunc {
	return func(context.Context) error {
		if isClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
}

// BreakerCheck fails while the circuit breaker is open.
func BreakerCheck(state func() gobreaker.State) CheckFunc {
	return func(context.Context) error {
		if s := state(); s == gobreaker.StateOpen {
			return errors.Errorf("circuit breaker %s", s)
		}
		return nil
	}
}
