// Package registry tracks render job metadata per client.
//
// Jobs are bucketed by client and keyed by job id inside a bucket. A job is
// active until it reaches completed or failed; at most one active job per
// (client, model, variant) is admitted through TryRegister.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"renderdesk/internal/models"
)

var (
	// ErrBlocked is returned by TryRegister when another active job renders the same target.
	ErrBlocked = errors.New("registry: an active job already renders this model variant")
	// ErrInvalidJob is returned when a job lacks its client or job id.
	ErrInvalidJob = errors.New("registry: job id and client are required")
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store is the render job registry.
//
// Missing buckets or jobs are never an error: UpsertStatus reports found=false
// and Delete/RemoveFinished do nothing. Errors come only from the backend.
type Store interface {
	// Register inserts the job or merges it into an existing entry with the same id.
	Register(ctx context.Context, meta models.RenderJobMeta) error
	// TryRegister registers the job unless another active job for the same
	// model/variant exists in the client's bucket. On conflict it returns the
	// blocking job id and ErrBlocked.
	TryRegister(ctx context.Context, meta models.RenderJobMeta) (blockedBy string, err error)
	// List returns the client's jobs, newest createdAt first.
	List(ctx context.Context, client string) ([]models.RenderJobMeta, error)
	// RemoveFinished deletes completed and failed jobs and returns how many were removed.
	RemoveFinished(ctx context.Context, client string) (int, error)
	// UpsertStatus applies a partial update. Unknown jobs are left alone and found is false.
	UpsertStatus(ctx context.Context, client, jobID string, patch models.JobPatch) (found bool, err error)
	// IsBlocked reports whether an active job exists for the model/variant pair.
	IsBlocked(ctx context.Context, client, modelName, variantName string) (bool, error)
	// Delete removes a job unconditionally.
	Delete(ctx context.Context, client, jobID string) error
	// Clients returns every client with a non-empty bucket.
	Clients(ctx context.Context) ([]string, error)
}

// New builds the store for the configured backend.
func New(backend string, rdb *redis.Client) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("registry: redis backend requires a redis client")
		}
		return NewRedisStore(rdb, DefaultRedisPrefix), nil
	default:
		return nil, fmt.Errorf("registry: unknown backend %q", backend)
	}
}

// SortNewestFirst orders jobs by createdAt descending. ISO-8601 strings of the
// same layout compare correctly as plain strings.
func SortNewestFirst(jobs []models.RenderJobMeta) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt > jobs[j].CreatedAt
	})
}

func validate(meta models.RenderJobMeta) error {
	if meta.JobID == "" || meta.Client == "" {
		return ErrInvalidJob
	}
	return nil
}

// prepareNew fills defaults for a job entering an empty slot.
func prepareNew(meta models.RenderJobMeta) models.RenderJobMeta {
	out := meta.Clone()
	if out.Status == "" {
		out.Status = models.StatusPending
	}
	return out
}

// findBlocker returns the id of the oldest active job, other than meta itself,
// rendering meta's model/variant. It returns "" when the slot is free.
func findBlocker(jobs []models.RenderJobMeta, meta models.RenderJobMeta) string {
	var blocker *models.RenderJobMeta
	for i := range jobs {
		j := &jobs[i]
		if j.JobID == meta.JobID || !j.Status.Active() {
			continue
		}
		if !j.SameTarget(meta.ModelName, meta.Variant()) {
			continue
		}
		if blocker == nil || j.CreatedAt < blocker.CreatedAt ||
			(j.CreatedAt == blocker.CreatedAt && j.JobID < blocker.JobID) {
			blocker = j
		}
	}
	if blocker == nil {
		return ""
	}
	return blocker.JobID
}

func anyActiveFor(jobs []models.RenderJobMeta, modelName, variantName string) bool {
	for i := range jobs {
		if jobs[i].Status.Active() && jobs[i].SameTarget(modelName, variantName) {
			return true
		}
	}
	return false
}
