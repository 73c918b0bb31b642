package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"renderdesk/internal/models"
)

// DefaultRedisPrefix namespaces registry keys.
const DefaultRedisPrefix = "render:"

// maxTxRetries bounds optimistic-lock retries when buckets are contended.
const maxTxRetries = 16

var _ Store = (*RedisStore)(nil)

// RedisStore keeps one hash per client (field = job id, value = JSON meta)
// plus a set of clients, so every API instance sees the same registry.
// Read-modify-write operations run under WATCH on the client's hash.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) bucketKey(client string) string { return s.prefix + "jobs:" + client }
func (s *RedisStore) clientsKey() string             { return s.prefix + "clients" }

func (s *RedisStore) Register(ctx context.Context, meta models.RenderJobMeta) error {
	if err := validate(meta); err != nil {
		return err
	}
	key := s.bucketKey(meta.Client)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		next, err := s.merged(ctx, tx, key, meta)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, key, next)
	})
}

func (s *RedisStore) TryRegister(ctx context.Context, meta models.RenderJobMeta) (string, error) {
	if err := validate(meta); err != nil {
		return "", err
	}
	key := s.bucketKey(meta.Client)

	var blockedBy string
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		blockedBy = ""
		jobs, err := loadBucket(ctx, tx, key)
		if err != nil {
			return err
		}
		if blocker := findBlocker(jobs, meta); blocker != "" {
			blockedBy = blocker
			return ErrBlocked
		}
		next, err := s.merged(ctx, tx, key, meta)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, key, next)
	})
	return blockedBy, err
}

func (s *RedisStore) List(ctx context.Context, client string) ([]models.RenderJobMeta, error) {
	jobs, err := loadBucket(ctx, s.rdb, s.bucketKey(client))
	if err != nil {
		return nil, err
	}
	SortNewestFirst(jobs)
	return jobs, nil
}

func (s *RedisStore) RemoveFinished(ctx context.Context, client string) (int, error) {
	key := s.bucketKey(client)

	var removed int
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		removed = 0
		jobs, err := loadBucket(ctx, tx, key)
		if err != nil {
			return err
		}
		var ids []string
		for _, j := range jobs {
			if j.Status.Terminal() {
				ids = append(ids, j.JobID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HDel(ctx, key, ids...)
			if len(ids) == len(jobs) {
				p.SRem(ctx, s.clientsKey(), client)
			}
			return nil
		})
		if err == nil {
			removed = len(ids)
		}
		return err
	})
	return removed, err
}

func (s *RedisStore) UpsertStatus(ctx context.Context, client, jobID string, patch models.JobPatch) (bool, error) {
	key := s.bucketKey(client)

	var found bool
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		found = false
		raw, err := tx.HGet(ctx, key, jobID).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var job models.RenderJobMeta
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return fmt.Errorf("registry: decode job %s: %w", jobID, err)
		}
		job.Apply(patch)
		if err := s.write(ctx, tx, key, job); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *RedisStore) IsBlocked(ctx context.Context, client, modelName, variantName string) (bool, error) {
	jobs, err := loadBucket(ctx, s.rdb, s.bucketKey(client))
	if err != nil {
		return false, err
	}
	return anyActiveFor(jobs, modelName, variantName), nil
}

func (s *RedisStore) Delete(ctx context.Context, client, jobID string) error {
	key := s.bucketKey(client)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.HLen(ctx, key).Result()
		if err != nil {
			return err
		}
		exists, err := tx.HExists(ctx, key, jobID).Result()
		if err != nil || !exists {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HDel(ctx, key, jobID)
			if n <= 1 {
				p.SRem(ctx, s.clientsKey(), client)
			}
			return nil
		})
		return err
	})
}

func (s *RedisStore) Clients(ctx context.Context) ([]string, error) {
	out, err := s.rdb.SMembers(ctx, s.clientsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// merged reads the current entry for meta.JobID and returns the value to store.
func (s *RedisStore) merged(ctx context.Context, tx *redis.Tx, key string, meta models.RenderJobMeta) (models.RenderJobMeta, error) {
	raw, err := tx.HGet(ctx, key, meta.JobID).Result()
	if errors.Is(err, redis.Nil) {
		return prepareNew(meta), nil
	}
	if err != nil {
		return models.RenderJobMeta{}, err
	}
	var existing models.RenderJobMeta
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		// A corrupt entry is replaced rather than blocking the job forever.
		return prepareNew(meta), nil
	}
	existing.Merge(meta)
	return existing, nil
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, key string, job models.RenderJobMeta) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, job.JobID, b)
		p.SAdd(ctx, s.clientsKey(), job.Client)
		return nil
	})
	return err
}

func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("registry: %s stayed contended after %d attempts", key, maxTxRetries)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func loadBucket(ctx context.Context, c hashReader, key string) ([]models.RenderJobMeta, error) {
	raw, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.RenderJobMeta, 0, len(raw))
	for _, v := range raw {
		var job models.RenderJobMeta
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}
