package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body probeBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func failWith(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func pass(context.Context) error { return nil }

// --- Mock implementations ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- Tests ---

func TestLiveEndpoint(t *testing.T) {
	h := New(zap.NewNop())
	h.AddLivenessCheck("goroutines", time.Second, pass)
	h.AddLivenessCheck("store", time.Second, failWith("connection refused"))

	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", body.Status)

	c := h.liveness[1]
	for range FailureThreshold - 1 {
		c.run(context.Background())
	}
	code, _ = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below the failure threshold")

	c.run(context.Background())
	code, body = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"store": "connection refused"}, body.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		checks []CheckFunc
		code   int
		failed []string
	}{
		{name: "ready without checks", ready: true, code: http.StatusOK},
		{name: "not marked ready", ready: false, checks: []CheckFunc{pass}, code: http.StatusServiceUnavailable, failed: []string{"_readiness"}},
		{name: "one dependency down", ready: true, checks: []CheckFunc{pass, failWith("timeout")}, code: http.StatusServiceUnavailable, failed: []string{"dep1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(zap.NewNop())
			for i, fn := range tt.checks {
				h.AddReadinessCheck("dep"+string(rune('0'+i)), time.Second, fn)
			}
			for _, c := range h.readiness {
				for range FailureThreshold {
					c.run(context.Background())
				}
			}
			h.SetReady(tt.ready)

			code, body := probe(t, h.ReadyEndpoint)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.code == http.StatusOK, h.IsReady())
			for _, name := range tt.failed {
				assert.Contains(t, body.Checks, name)
			}
			assert.Len(t, body.Checks, len(tt.failed))
		})
	}
}

func TestCheck_RecoveryIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))

	var failing atomic.Bool
	failing.Store(true)
	h.AddReadinessCheck("redis", time.Second, func(context.Context) error {
		if failing.Load() {
			return errors.New("dial tcp: refused")
		}
		return nil
	})
	c := h.readiness[0]
	h.SetReady(true)

	for range FailureThreshold {
		c.run(context.Background())
	}
	assert.False(t, h.IsReady())
	assert.EqualError(t, c.err(), "dial tcp: refused")
	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len())

	failing.Store(false)
	c.run(context.Background())
	assert.True(t, h.IsReady())
	assert.NoError(t, c.err())
	assert.Equal(t, 1, logs.FilterMessage("Health check recovered").Len())
}

func TestCheck_Timeout(t *testing.T) {
	h := New(zap.NewNop())
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := h.readiness[0]
	c.run(context.Background())
	assert.ErrorIs(t, c.err(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	h := New(zap.NewNop())
	var runs atomic.Int64
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestConcurrentProbes(t *testing.T) {
	h := New(zap.NewNop())
	h.AddReadinessCheck("flaky", time.Second, failWith("flaky"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
				_ = h.IsReady()
			}
		}()
	}
	wg.Wait()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	assert.NoError(t, PingCheck(&mockPinger{})(ctx))
	assert.EqualError(t, PingCheck(&mockPinger{err: errors.New("down")})(ctx), "down")

	closed := false
	conn := ConnectionCheck(func() bool { return closed })
	assert.NoError(t, conn(ctx))
	closed = true
	assert.Error(t, conn(ctx))

	state := gobreaker.StateClosed
	breaker := BreakerCheck(func() gobreaker.State { return state })
	assert.NoError(t, breaker(ctx))
	state = gobreaker.StateHalfOpen
	assert.NoError(t, breaker(ctx))
	state = gobreaker.StateOpen
	assert.EqualError(t, breaker(ctx), "circuit breaker open")
}
