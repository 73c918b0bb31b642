// Package reconciler keeps registry entries in step with the render worker's queue.
package reconciler

import (
	"context"

	"renderdesk/internal/metrics"
	"renderdesk/internal/models"
	"renderdesk/internal/registry"
)

// ApplyQueue copies the status fields of every upstream item onto the matching
// registry entry. Items the registry does not know are dropped and counted.
func ApplyQueue(ctx context.Context, store registry.Store, client string, items []models.RenderJobMeta) (applied, dropped int, err error) {
	for _, it := range items {
		patch := it.Patch()
		if patch.Empty() {
			continue
		}
		found, err := store.UpsertStatus(ctx, client, it.JobID, patch)
		if err != nil {
			return applied, dropped, err
		}
		metrics.StatusUpdate(found)
		if found {
			applied++
		} else {
			dropped++
		}
	}
	return applied, dropped, nil
}
