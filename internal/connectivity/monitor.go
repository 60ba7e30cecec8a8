// Package connectivity tracks whether the terminal can reach the POS server
// right now. The raw platform signal (do we have a non-loopback interface?)
// is cheap but can lie, so reachability is decided by an application-level
// probe against the server's health endpoint.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the probe state machine position.
type State string

const (
	StateUnknown State = "unknown"
	StateProbing State = "probing"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Status is the monitor's last observation. Recomputed on every probe,
// never merged.
type Status struct {
	State       State
	Online      bool
	Degraded    bool // reachable but the service answered unhealthy
	Latency     time.Duration
	LastChecked time.Time
	Err         string // last probe error, kept for diagnostics
}

// Prober performs one health probe. Satisfied by apiclient.Client.Probe.
type Prober interface {
	Probe(ctx context.Context) (latency time.Duration, reachable bool, err error)
}

const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 2500 * time.Millisecond
)

// Monitor runs periodic health probes and exposes a cheap online signal.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	// netPresent reports the raw platform network-presence signal;
	// replaceable in tests.
	netPresent func() bool

	online atomic.Bool

	mu     sync.Mutex
	status Status

	kick       chan struct{}
	onlineEdge chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the periodic probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithNetPresence overrides the raw network-presence check (tests).
func WithNetPresence(fn func() bool) Option {
	return func(m *Monitor) { m.netPresent = fn }
}

// New creates a Monitor. Run must be called for periodic probing; ProbeNow
// works without it.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:     prober,
		interval:   defaultInterval,
		timeout:    defaultProbeTimeout,
		netPresent: rawNetworkPresent,
		status:     Status{State: StateUnknown},
		kick:       make(chan struct{}, 1),
		onlineEdge: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsLikelyOnline is a non-blocking read of the last probe verdict.
func (m *Monitor) IsLikelyOnline() bool {
	return m.online.Load()
}

// Status returns a copy of the last observation.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnlineEdge fires when a probe transitions the monitor offline→online.
// Buffered; an unconsumed edge is coalesced with the next.
func (m *Monitor) OnlineEdge() <-chan struct{} {
	return m.onlineEdge
}

// KickProbe requests an immediate out-of-band probe from the Run loop
// (e.g., on a platform "connectivity regained" event).
func (m *Monitor) KickProbe() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run probes on a ticker plus kick requests until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	// Initial probe so consumers are not stuck on Unknown for a full tick
	m.ProbeNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeNow(ctx)
		case <-m.kick:
			m.ProbeNow(ctx)
		}
	}
}

// ProbeNow performs one probe cycle. Probe errors never propagate; they only
// update the status record.
func (m *Monitor) ProbeNow(ctx context.Context) Status {
	m.setState(StateProbing)

	// If the platform says there is no network at all, trust it and skip
	// the wasted probe.
	if !m.netPresent() {
		return m.record(Status{
			State:       StateOffline,
			LastChecked: time.Now(),
			Err:         "no network interface",
		})
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	latency, reachable, err := m.prober.Probe(probeCtx)

	st := Status{
		Latency:     latency,
		LastChecked: time.Now(),
	}
	switch {
	case err == nil:
		st.State = StateOnline
		st.Online = true
	case reachable:
		// Got an HTTP response, service degraded. Still worth letting the
		// coordinator try, expecting heavy backoff.
		st.State = StateOnline
		st.Online = true
		st.Degraded = true
		st.Err = err.Error()
	default:
		st.State = StateOffline
		st.Err = err.Error()
	}
	return m.record(st)
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.status.State = s
	m.mu.Unlock()
}

func (m *Monitor) record(st Status) Status {
	wasOnline := m.online.Load()
	m.online.Store(st.Online)

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()

	if st.Online && !wasOnline {
		slog.Debug("connectivity regained", "latency", st.Latency, "degraded", st.Degraded)
		select {
		case m.onlineEdge <- struct{}{}:
		default:
		}
	} else if !st.Online && wasOnline {
		slog.Debug("connectivity lost", "err", st.Err)
	}
	return st
}

// rawNetworkPresent reports whether any non-loopback interface is up with an
// address. This is the platform-presence signal, not server reachability.
func rawNetworkPresent() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return true // can't tell, let the probe decide
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
