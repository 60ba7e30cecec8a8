package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/status"
	"github.com/marcus/till/internal/store"
)

// pullAll refreshes every reference collection. One collection failing does
// not stop the others; errors are joined by the caller.
func (c *Coordinator) pullAll(ctx context.Context, result *CycleResult) error {
	var firstErr error
	for i, collection := range models.Collections {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.bus.Set(status.Notification{
			Type:     status.TypeSyncing,
			Message:  fmt.Sprintf("pulling %s", collection),
			Progress: &status.Progress{Stage: "pull", Current: i + 1, Total: len(models.Collections)},
			Priority: status.PriorityNormal,
		}, false)

		if err := c.pullCollection(ctx, collection, result); err != nil {
			slog.Warn("pull collection failed", "collection", collection, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pull %s: %w", collection, err)
			}
		}
	}
	return firstErr
}

// pullCollection pulls one collection's delta since its watermark and applies
// it. Records with a local pending edit are skipped: the queued mutation is
// the source of truth until it is delivered, and the drain fold-back will
// reconcile them. A record only applies when its incoming updated_at is newer
// than the replica's. The watermark advances only after every page applied,
// so an interrupted pull re-fetches rather than losing changes.
func (c *Coordinator) pullCollection(ctx context.Context, collection models.Collection, result *CycleResult) error {
	meta, err := c.st.GetSyncMetadata()
	if err != nil {
		return fmt.Errorf("read sync metadata: %w", err)
	}
	since := meta.LastCollectionSync(collection)

	dirty, err := c.st.DirtyIDs(collection)
	if err != nil {
		return err
	}
	versions, err := c.st.LocalVersions(collection)
	if err != nil {
		return err
	}

	var watermark time.Time
	for {
		resp, err := c.api.PullChanges(ctx, collection, since, c.cfg.PullPageSize)
		if err != nil {
			return err
		}
		result.Pulled += len(resp.Records)

		var apply []models.Record
		for _, pr := range resp.Records {
			if dirty[pr.ID] {
				result.Skipped++
				slog.Debug("conflict skip: local pending edit wins",
					"collection", collection, "id", pr.ID)
				continue
			}
			// Page resumes and fold-back races can hand back a version the
			// replica already has or has moved past; only newer applies.
			if local, ok := versions[pr.ID]; ok && !pr.UpdatedAt.After(local) {
				slog.Debug("stale delta entry ignored",
					"collection", collection, "id", pr.ID, "incoming", pr.UpdatedAt, "local", local)
				continue
			}
			versions[pr.ID] = pr.UpdatedAt
			syncedAt := resp.ServerTime
			apply = append(apply, models.Record{
				Collection:   collection,
				ID:           pr.ID,
				Payload:      pr.Payload,
				UpdatedAt:    pr.UpdatedAt,
				LastSyncedAt: &syncedAt,
			})
		}
		if err := c.st.PutMany(collection, apply); err != nil {
			return err
		}
		result.Applied += len(apply)

		if !resp.ServerTime.IsZero() {
			watermark = resp.ServerTime
		}
		if !resp.HasMore {
			break
		}
		// Next page resumes from the newest record seen so far
		if n := len(resp.Records); n > 0 {
			last := resp.Records[n-1].UpdatedAt
			since = &last
		}
	}

	if !watermark.IsZero() {
		patch := store.MetadataPatch{
			CollectionSync: map[models.Collection]time.Time{collection: watermark},
		}
		if err := c.st.UpdateSyncMetadata(patch); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return nil
}
