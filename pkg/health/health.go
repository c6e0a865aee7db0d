// Package health implements Kubernetes-style liveness and readiness probes.
//
// Probes are registered once during startup and then evaluated together on a
// single background loop. A probe flips to failing only after three
// consecutive errors and recovers on the first success, so a transient blip
// does not bounce the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const failAfter = 3

// probe is one registered check plus its evaluation state. State fields are
// written only by the scheduler loop; handlers read them atomically.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	failing atomic.Bool
	lastErr atomic.Pointer[error]
	streak  int // consecutive failures, scheduler-only
}

func (p *probe) eval(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err == nil {
		p.streak = 0
		p.failing.Store(false)
		return
	}
	p.streak++
	if p.streak >= failAfter {
		p.failing.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if !p.failing.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "probe failing", true
}

// Health tracks liveness and readiness probes and serves their endpoints.
// The zero value is unusable; call New.
type Health struct {
	ready atomic.Bool

	mu       sync.Mutex
	live     []*probe
	readying []*probe
	cancel   context.CancelFunc
}

// New returns a Health in the not-ready state. Call SetReady(true) once
// startup finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe for /livez. Liveness answers "is the
// process itself still functioning", e.g. goroutine leak detection.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, &probe{name: name, timeout: timeout, check: check})
}

// AddReadinessCheck registers a probe for /readyz. Readiness answers "can this
// instance serve traffic right now", e.g. database connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readying = append(h.readying, &probe{name: name, timeout: timeout, check: check})
}

// Start launches the evaluation loop. All probes are evaluated immediately,
// then once per interval, until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.live)+len(h.readying))
	probes = append(probes, h.live...)
	probes = append(probes, h.readying...)
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		evalAll := func() {
			for _, p := range probes {
				p.eval(ctx)
			}
		}
		evalAll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evalAll()
			}
		}
	}()
}

// Stop halts the evaluation loop. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it to
// false first so the load balancer drains the instance before the listener
// closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(&h.readying) {
		if _, bad := p.failure(); bad {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(set *[]*probe) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*probe, len(*set))
	copy(out, *set)
	return out
}

type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503 with
// the failing probes otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	serveReport(w, h.failures(h.snapshot(&h.live)))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and all
// readiness probes pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.snapshot(&h.readying))
	if !h.ready.Load() {
		if failures == nil {
			failures = make(map[string]string, 1)
		}
		failures["_gate"] = "service is not ready"
	}
	serveReport(w, failures)
}

func (h *Health) failures(probes []*probe) map[string]string {
	var out map[string]string
	for _, p := range probes {
		if msg, bad := p.failure(); bad {
			if out == nil {
				out = make(map[string]string)
			}
			out[p.name] = msg
		}
	}
	return out
}

func serveReport(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	report := probeReport{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		report.Status = "unhealthy"
		report.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
