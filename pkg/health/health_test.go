package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getEndpoint(t *testing.T, fn http.HandlerFunc) (int, probeReport) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var report probeReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	return rec.Code, report
}

func TestReadyEndpoint_GateClosedByDefault(t *testing.T) {
	h := New()

	code, report := getEndpoint(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Contains(t, report.Checks, "_gate")
}

func TestReadyEndpoint_GateOpen(t *testing.T) {
	h := New()
	h.SetReady(true)

	code, report := getEndpoint(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", report.Status)
	assert.Empty(t, report.Checks)
}

func TestLiveEndpoint_NoProbes(t *testing.T) {
	h := New()

	code, report := getEndpoint(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", report.Status)
}

func TestProbe_FailsOnlyAfterThreshold(t *testing.T) {
	p := &probe{
		name:    "flaky",
		timeout: time.Second,
		check: func(context.Context) error {
			return errors.New("down")
		},
	}

	ctx := context.Background()
	p.eval(ctx)
	p.eval(ctx)
	_, failing := p.failure()
	assert.False(t, failing, "two consecutive errors are tolerated")

	p.eval(ctx)
	msg, failing := p.failure()
	assert.True(t, failing)
	assert.Equal(t, "down", msg)
}

func TestProbe_RecoversOnFirstSuccess(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)

	p := &probe{
		name:    "db",
		timeout: time.Second,
		check: func(context.Context) error {
			if broken.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}

	ctx := context.Background()
	for range 3 {
		p.eval(ctx)
	}
	_, failing := p.failure()
	require.True(t, failing)

	broken.Store(false)
	p.eval(ctx)
	_, failing = p.failure()
	assert.False(t, failing)
}

func TestIsReady_FailingProbeBlocksReadiness(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("no route to host")
	})

	require.True(t, h.IsReady(), "not failing until evaluated past the threshold")

	for _, p := range h.readying {
		for range failAfter {
			p.eval(context.Background())
		}
	}

	assert.False(t, h.IsReady())

	code, report := getEndpoint(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, report.Checks, "db")
}

func TestStartAndStop(t *testing.T) {
	h := New()

	var evals atomic.Int32
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		evals.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return evals.Load() >= 2
	}, time.Second, time.Millisecond)
	h.Stop()

	code, _ := getEndpoint(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(stubPinger{})(context.Background()))

	err := PingCheck(stubPinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
