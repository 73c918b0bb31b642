package reconciler

import (
	"context"
	"time"

	"renderdesk/internal/metrics"
	"renderdesk/internal/models"
	"renderdesk/internal/registry"
)

// ExpiredStage is the stage set on jobs failed by ExpireUnreported.
const ExpiredStage = "expired"

// ExpireUnreported fails the client's active jobs that are missing from the
// worker's queue once their createdAt is older than ttl, and returns their ids.
// This frees the model/variant slot of a job whose dispatch never reached the
// worker. A non-positive ttl disables it; jobs with an unparsable createdAt are
// left alone.
func ExpireUnreported(ctx context.Context, store registry.Store, client string, reported []models.RenderJobMeta, ttl time.Duration, now time.Time) ([]string, error) {
	if ttl <= 0 {
		return nil, nil
	}

	local, err := store.List(ctx, client)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(reported))
	for _, it := range reported {
		seen[it.JobID] = struct{}{}
	}

	failed, stage := models.StatusFailed, ExpiredStage
	patch := models.JobPatch{Status: &failed, Stage: &stage}

	var expired []string
	for _, j := range local {
		if !j.Status.Active() {
			continue
		}
		if _, ok := seen[j.JobID]; ok {
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, j.CreatedAt)
		if err != nil || now.Sub(created) < ttl {
			continue
		}
		found, err := store.UpsertStatus(ctx, client, j.JobID, patch)
		if err != nil {
			metrics.JobsExpired(len(expired))
			return expired, err
		}
		if found {
			expired = append(expired, j.JobID)
		}
	}
	metrics.JobsExpired(len(expired))
	return expired, nil
}
