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
)

// entityGroup is the unit of drain concurrency: all queued mutations for one
// entity, in creation order. Groups run in parallel; items within a group are
// strictly sequential so a create is never outrun by its own update.
type entityGroup struct {
	collection models.Collection
	entityID   string
	items      []queue.Item
}

// drain delivers eligible pending mutations to the server. Delivery is
// at-least-once: an ack lost after the server applied a mutation causes a
// redelivery, which the idempotency key collapses server-side.
func (c *Coordinator) drain(ctx context.Context, result *CycleResult) error {
	// Connectivity can drop between the cycle's start and here
	if !c.online.IsLikelyOnline() {
		slog.Debug("drain skipped: offline")
		return nil
	}

	items, err := c.q.PendingInOrder()
	if err != nil {
		return fmt.Errorf("load pending mutations: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	// The backoff gate applies per entity, not per item: a gated mutation
	// holds back every later mutation for the same entity, otherwise an
	// update could be delivered ahead of its still-gated create.
	now := time.Now()
	var (
		groups []entityGroup
		total  int
	)
	for _, g := range groupByEntity(items) {
		if !g.items[0].Eligible(now) {
			continue
		}
		groups = append(groups, g)
		total += len(g.items)
	}
	if len(groups) == 0 {
		return nil
	}

	c.bus.Set(status.Notification{
		Type:     status.TypeSyncing,
		Message:  fmt.Sprintf("delivering %d queued mutations", total),
		Progress: &status.Progress{Stage: "drain", Total: total},
		Priority: status.PriorityNormal,
	}, false)

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.cfg.FanOut)
		mu       sync.Mutex
		abortErr error
	)
	for _, g := range groups {
		// Stop handing out new groups once the monitor flips offline or a
		// cycle-level abort (auth failure, cancellation) is recorded.
		mu.Lock()
		aborted := abortErr != nil
		mu.Unlock()
		if aborted || ctx.Err() != nil || !c.online.IsLikelyOnline() {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(g entityGroup) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := c.drainGroup(ctx, g, result, &mu); err != nil {
				mu.Lock()
				if abortErr == nil {
					abortErr = err
				}
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	return abortErr
}

// groupByEntity partitions items by (collection, entity id), preserving the
// creation order both across group discovery and within each group.
func groupByEntity(items []queue.Item) []entityGroup {
	index := make(map[string]int)
	var groups []entityGroup
	for _, it := range items {
		key := string(it.Collection) + "/" + it.EntityID
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, entityGroup{collection: it.Collection, entityID: it.EntityID})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

// drainGroup delivers one entity's mutations in order. The first item that
// does not complete stops the group: later mutations for the same entity must
// not jump ahead of an undelivered earlier one. A returned error aborts the
// whole drain (auth failure or cancellation); ordinary per-item failures are
// recorded on the item and counted, not returned.
func (c *Coordinator) drainGroup(ctx context.Context, g entityGroup, result *CycleResult, mu *sync.Mutex) error {
	for _, item := range g.items {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.q.MarkSyncing(item.ID); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				// Claimed by another process since we listed; skip the group
				return nil
			}
			return fmt.Errorf("claim mutation %s: %w", item.ID, err)
		}
		attempts := item.Attempts + 1

		mu.Lock()
		result.Dispatched++
		mu.Unlock()

		resp, err := c.api.PushMutation(ctx, &apiclient.MutationRequest{
			ID:         item.ID,
			Operation:  item.Operation,
			Collection: item.Collection,
			EntityID:   item.EntityID,
			Payload:    item.Payload,
			TerminalID: c.cfg.TerminalID,
			CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})

		switch {
		case err == nil:
			if err := c.q.MarkCompleted(item.ID); err != nil {
				return fmt.Errorf("complete mutation %s: %w", item.ID, err)
			}
			if err := c.foldBack(item, resp); err != nil {
				slog.Warn("fold back canonical record", "id", item.ID, "err", err)
			}
			mu.Lock()
			result.Completed++
			mu.Unlock()

		case apiclient.IsPermanent(err):
			slog.Warn("mutation rejected by server",
				"id", item.ID, "collection", item.Collection, "entity", item.EntityID, "err", err)
			if merr := c.q.MarkFailed(item.ID, err.Error()); merr != nil {
				return fmt.Errorf("fail mutation %s: %w", item.ID, merr)
			}
			mu.Lock()
			result.Failed++
			mu.Unlock()
			return nil

		case errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrForbidden):
			// Credentials are bad for every item; put this one back untouched
			// and abort the drain.
			if merr := c.q.MarkPendingRetry(item.ID, err.Error(), 0); merr != nil {
				slog.Warn("requeue mutation after auth failure", "id", item.ID, "err", merr)
			}
			return err

		default:
			// Transient: back off, or give up after too many attempts
			if attempts >= c.cfg.MaxAttempts {
				slog.Warn("mutation exhausted retry budget",
					"id", item.ID, "attempts", attempts, "err", err)
				if merr := c.q.MarkFailed(item.ID, err.Error()); merr != nil {
					return fmt.Errorf("fail mutation %s: %w", item.ID, merr)
				}
				mu.Lock()
				result.Failed++
				mu.Unlock()
			} else {
				delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffCap, attempts)
				slog.Debug("mutation delivery failed, will retry",
					"id", item.ID, "attempts", attempts, "retry_in", delay, "err", err)
				if merr := c.q.MarkPendingRetry(item.ID, err.Error(), delay); merr != nil {
					return fmt.Errorf("requeue mutation %s: %w", item.ID, merr)
				}
				mu.Lock()
				result.Requeued++
				mu.Unlock()
			}
			return nil
		}
	}
	return nil
}

// foldBack writes the server's canonical record over the optimistic local
// copy, clearing its dirty marker. Deletes have no canonical record; the
// local row was already removed at enqueue time.
func (c *Coordinator) foldBack(item queue.Item, resp *apiclient.MutationResponse) error {
	if item.Operation == models.OperationDelete {
		return c.st.Delete(item.Collection, item.EntityID)
	}
	if resp == nil || resp.Record == nil {
		return nil
	}
	now := time.Now().UTC()
	return c.st.PutMany(item.Collection, []models.Record{{
		Collection:   item.Collection,
		ID:           item.EntityID,
		Payload:      resp.Record.Payload,
		UpdatedAt:    resp.Record.UpdatedAt,
		LastSyncedAt: &now,
	}})
}
