// Package coordinator orchestrates the sync cycle: pull fresh reference data
// into the local store, then drain the mutation queue against the server.
// One cycle runs at a time; triggers arriving mid-cycle are coalesced.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/till/internal/apiclient"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/status"
	"github.com/marcus/till/internal/store"
)

// ErrSyncInProgress signals that a cycle was requested while one is running.
// The new request is dropped, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// API is the server surface the coordinator needs. Satisfied by
// apiclient.Client; narrowed for tests.
type API interface {
	PullChanges(ctx context.Context, collection models.Collection, since *time.Time, limit int) (*apiclient.PullResponse, error)
	PushMutation(ctx context.Context, req *apiclient.MutationRequest) (*apiclient.MutationResponse, error)
}

// OnlineChecker is the connectivity monitor surface the coordinator needs.
type OnlineChecker interface {
	IsLikelyOnline() bool
}

// alwaysOnline is used when no monitor is wired (manual one-shot sync).
type alwaysOnline struct{}

func (alwaysOnline) IsLikelyOnline() bool { return true }

// Config tunes the coordinator.
type Config struct {
	TerminalID   string // stamped on outgoing mutations
	PullPageSize int
	FanOut       int           // concurrent entity groups during drain
	BackoffBase  time.Duration // transient-failure backoff base
	BackoffCap   time.Duration
	MaxAttempts  int // transient failures before an item goes failed
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		PullPageSize: 500,
		FanOut:       4,
		BackoffBase:  2 * time.Second,
		BackoffCap:   5 * time.Minute,
		MaxAttempts:  8,
	}
}

// CycleResult summarises one sync cycle.
type CycleResult struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Pull phase
	Pulled  int // records received
	Applied int // records upserted
	Skipped int // conflict-skipped (local dirty)

	// Drain phase
	Dispatched int // items attempted
	Completed  int
	Requeued   int // transient failures sent back to pending
	Failed     int // permanent failures
}

// Coordinator runs sync cycles against a store, queue, and server API.
type Coordinator struct {
	st     *store.Store
	q      *queue.Queue
	api    API
	online OnlineChecker
	bus    *status.Bus
	cfg    Config

	// mu enforces the one-cycle-at-a-time invariant in-process; the
	// sync_in_progress metadata flag mirrors it for external readers.
	mu sync.Mutex
}

// New creates a Coordinator. monitor and bus may be nil (one-shot CLI use).
func New(st *store.Store, q *queue.Queue, api API, monitor OnlineChecker, bus *status.Bus, cfg Config) *Coordinator {
	if monitor == nil {
		monitor = alwaysOnline{}
	}
	if bus == nil {
		bus = status.NewBus()
	}
	if cfg.PullPageSize <= 0 {
		cfg.PullPageSize = DefaultConfig().PullPageSize
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = DefaultConfig().FanOut
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Coordinator{st: st, q: q, api: api, online: monitor, bus: bus, cfg: cfg}
}

// Bus returns the status bus the coordinator publishes to.
func (c *Coordinator) Bus() *status.Bus {
	return c.bus
}

// RunCycle executes one pull+drain cycle. A cycle already in flight causes
// an immediate ErrSyncInProgress return (coalescing).
func (c *Coordinator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !c.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer c.mu.Unlock()

	meta, err := c.st.GetSyncMetadata()
	if err != nil {
		return nil, fmt.Errorf("read sync metadata: %w", err)
	}
	if meta.SyncInProgress {
		// Another process owns the cycle
		return nil, ErrSyncInProgress
	}

	if !c.online.IsLikelyOnline() {
		slog.Debug("sync cycle skipped: offline")
		msg := "offline"
		if n, err := c.q.PendingCount(); err == nil && n > 0 {
			msg = fmt.Sprintf("offline, %d mutations waiting", n)
		}
		c.bus.Set(status.Notification{
			Type:     status.TypeOffline,
			Message:  msg,
			Priority: status.PriorityNormal,
		}, false)
		now := time.Now()
		return &CycleResult{StartedAt: now, FinishedAt: now}, nil
	}

	if err := c.st.SetSyncInProgress(true); err != nil {
		return nil, fmt.Errorf("set sync flag: %w", err)
	}
	defer func() {
		if err := c.st.SetSyncInProgress(false); err != nil {
			slog.Warn("clear sync flag", "err", err)
		}
	}()

	result := &CycleResult{StartedAt: time.Now()}
	c.bus.Set(status.Notification{
		Type:      status.TypeSyncing,
		Message:   "sync started",
		Progress:  &status.Progress{Stage: "pull", Total: len(models.Collections)},
		Priority:  status.PriorityNormal,
		Timestamp: result.StartedAt,
	}, false)

	pullErr := c.pullAll(ctx, result)
	drainErr := c.drain(ctx, result)

	result.FinishedAt = time.Now()

	if pullErr != nil || drainErr != nil {
		err := errors.Join(pullErr, drainErr)
		c.bus.Set(status.Notification{
			Type:     status.TypeError,
			Message:  "sync failed",
			Details:  err.Error(),
			Priority: status.PriorityHigh,
		}, false)
		return result, err
	}

	now := result.FinishedAt
	if err := c.st.UpdateSyncMetadata(store.MetadataPatch{LastSync: &now}); err != nil {
		return result, fmt.Errorf("update last sync: %w", err)
	}

	msg := fmt.Sprintf("synced: %d pulled, %d delivered", result.Applied, result.Completed)
	if result.Failed > 0 {
		c.bus.Set(status.Notification{
			Type:     status.TypeError,
			Message:  fmt.Sprintf("%d mutations rejected by server", result.Failed),
			Details:  msg,
			Priority: status.PriorityHigh,
		}, false)
	} else {
		c.bus.Set(status.Notification{
			Type:     status.TypeSuccess,
			Message:  msg,
			Priority: status.PriorityLow,
		}, false)
	}

	slog.Debug("sync cycle complete",
		"pulled", result.Pulled, "applied", result.Applied, "skipped", result.Skipped,
		"completed", result.Completed, "requeued", result.Requeued, "failed", result.Failed,
		"elapsed", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// Backoff returns the retry delay after the given number of attempts:
// min(base * 2^attempts, cap). Non-decreasing in attempts.
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Guard the shift; past ~32 doublings any base has blown through cap
	if attempts > 32 {
		return cap
	}
	d := base << uint(attempts)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
