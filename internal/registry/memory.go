package registry

import (
	"context"
	"sort"
	"sync"

	"renderdesk/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the registry in process memory. State is lost on restart
// and is not shared between instances; use RedisStore for that.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*models.RenderJobMeta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]*models.RenderJobMeta)}
}

func (s *MemoryStore) Register(_ context.Context, meta models.RenderJobMeta) error {
	if err := validate(meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(meta)
	return nil
}

func (s *MemoryStore) TryRegister(_ context.Context, meta models.RenderJobMeta) (string, error) {
	if err := validate(meta); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocker := findBlocker(s.snapshot(meta.Client), meta); blocker != "" {
		return blocker, ErrBlocked
	}
	s.put(meta)
	return "", nil
}

func (s *MemoryStore) List(_ context.Context, client string) ([]models.RenderJobMeta, error) {
	s.mu.RLock()
	out := s.snapshot(client)
	s.mu.RUnlock()

	SortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) RemoveFinished(_ context.Context, client string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[client]
	if !ok {
		return 0, nil
	}
	removed := 0
	for id, job := range bucket {
		if job.Status.Terminal() {
			delete(bucket, id)
			removed++
		}
	}
	if len(bucket) == 0 {
		delete(s.buckets, client)
	}
	return removed, nil
}

func (s *MemoryStore) UpsertStatus(_ context.Context, client, jobID string, patch models.JobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.buckets[client][jobID]
	if !ok {
		return false, nil
	}
	job.Apply(patch)
	return true, nil
}

func (s *MemoryStore) IsBlocked(_ context.Context, client, modelName, variantName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.buckets[client] {
		if job.Status.Active() && job.SameTarget(modelName, variantName) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Delete(_ context.Context, client, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[client]
	if !ok {
		return nil
	}
	delete(bucket, jobID)
	if len(bucket) == 0 {
		delete(s.buckets, client)
	}
	return nil
}

func (s *MemoryStore) Clients(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.buckets))
	for client := range s.buckets {
		out = append(out, client)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

// put inserts or merges meta. Caller holds the write lock.
func (s *MemoryStore) put(meta models.RenderJobMeta) {
	bucket, ok := s.buckets[meta.Client]
	if !ok {
		bucket = make(map[string]*models.RenderJobMeta)
		s.buckets[meta.Client] = bucket
	}
	if existing, ok := bucket[meta.JobID]; ok {
		existing.Merge(meta)
		return
	}
	fresh := prepareNew(meta)
	bucket[meta.JobID] = &fresh
}

// snapshot copies a client's bucket. Caller holds a lock.
func (s *MemoryStore) snapshot(client string) []models.RenderJobMeta {
	bucket := s.buckets[client]
	out := make([]models.RenderJobMeta, 0, len(bucket))
	for _, job := range bucket {
		out = append(out, job.Clone())
	}
	return out
}
