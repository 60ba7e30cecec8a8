package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProber returns scripted probe results in order, repeating the last.
type fakeProber struct {
	results []probeResult
	calls   atomic.Int32
}

type probeResult struct {
	reachable bool
	err       error
}

func (f *fakeProber) Probe(ctx context.Context) (time.Duration, bool, error) {
	i := int(f.calls.Add(1)) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	return 5 * time.Millisecond, r.reachable, r.err
}

func newTestMonitor(p Prober) *Monitor {
	return New(p, WithNetPresence(func() bool { return true }))
}

func TestProbeNowOnline(t *testing.T) {
	m := newTestMonitor(&fakeProber{results: []probeResult{{reachable: true}}})

	st := m.ProbeNow(context.Background())
	if !st.Online || st.State != StateOnline || st.Degraded {
		t.Errorf("status = %+v", st)
	}
	if !m.IsLikelyOnline() {
		t.Error("IsLikelyOnline should be true after a healthy probe")
	}
}

func TestProbeNowDegradedCountsAsOnline(t *testing.T) {
	m := newTestMonitor(&fakeProber{results: []probeResult{
		{reachable: true, err: errors.New("healthz HTTP 500")},
	}})

	st := m.ProbeNow(context.Background())
	if !st.Online || !st.Degraded {
		t.Errorf("status = %+v", st)
	}
	if st.Err == "" {
		t.Error("degraded status should keep the probe error")
	}
}

func TestProbeNowOffline(t *testing.T) {
	m := newTestMonitor(&fakeProber{results: []probeResult{
		{reachable: false, err: errors.New("connection refused")},
	}})

	st := m.ProbeNow(context.Background())
	if st.Online || st.State != StateOffline {
		t.Errorf("status = %+v", st)
	}
	if m.IsLikelyOnline() {
		t.Error("IsLikelyOnline should be false")
	}
}

func TestNoNetworkSkipsProbe(t *testing.T) {
	p := &fakeProber{results: []probeResult{{reachable: true}}}
	m := New(p, WithNetPresence(func() bool { return false }))

	st := m.ProbeNow(context.Background())
	if st.Online {
		t.Errorf("status = %+v", st)
	}
	if n := p.calls.Load(); n != 0 {
		t.Errorf("probe ran %d times despite no network", n)
	}
}

func TestOnlineEdgeFiresOnRecovery(t *testing.T) {
	p := &fakeProber{results: []probeResult{
		{reachable: false, err: errors.New("refused")},
		{reachable: true},
		{reachable: true},
	}}
	m := newTestMonitor(p)

	m.ProbeNow(context.Background()) // offline
	select {
	case <-m.OnlineEdge():
		t.Fatal("edge fired while offline")
	default:
	}

	m.ProbeNow(context.Background()) // offline -> online
	select {
	case <-m.OnlineEdge():
	default:
		t.Fatal("edge did not fire on recovery")
	}

	m.ProbeNow(context.Background()) // still online, no new edge
	select {
	case <-m.OnlineEdge():
		t.Fatal("edge fired without a transition")
	default:
	}
}

func TestRunHonorsKickAndCancel(t *testing.T) {
	p := &fakeProber{results: []probeResult{{reachable: true}}}
	m := newTestMonitor(p)
	// Long interval so only the initial probe and the kick run
	WithInterval(time.Hour)(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("initial probe never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.KickProbe()
	for p.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("kicked probe never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
