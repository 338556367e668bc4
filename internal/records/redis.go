package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
)

// RedisStore keeps each check in a hash (check:{id}) holding the JSON row plus a few
// flattened fields, and indexes ids in sets per batch and per family. A names hash per family
// reserves each check's file name.
type RedisStore struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: c, keyNS: "checksplit"}, nil
}

// NewRedisStoreWithClient wraps an existing client; ns prefixes every key.
func NewRedisStoreWithClient(c *redis.Client, ns string) *RedisStore {
	if ns == "" {
		ns = "checksplit"
	}
	return &RedisStore{client: c, keyNS: ns}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) checkKey(id string) string {
	return fmt.Sprintf("%s:check:%s", s.keyNS, id)
}

func (s *RedisStore) allKey() string { return s.keyNS + ":checks" }

func (s *RedisStore) batchIndexKey(batch string) string {
	return fmt.Sprintf("%s:batch:%s:checks", s.keyNS, batch)
}

func (s *RedisStore) familyKey(batch, check string) string {
	return fmt.Sprintf("%s:family:%s:%s", s.keyNS, batch, check)
}

func (s *RedisStore) batchKey(number string) string {
	return fmt.Sprintf("%s:batch:%s", s.keyNS, number)
}

func checkFields(c *models.Check) (map[string]interface{}, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"data":         string(b),
		"version":      c.Version,
		"batch_number": c.BatchNumber,
		"check_number": c.CheckNumber,
		"file_name":    c.FileName(),
		"status":       string(c.Status),
		"updated_at":   c.UpdatedAt.Format(time.RFC3339Nano),
	}, nil
}

func decodeCheck(data string) (*models.Check, error) {
	var c models.Check
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode check: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) GetCheck(ctx context.Context, id string) (*models.Check, error) {
	data, err := s.client.HGet(ctx, s.checkKey(id), "data").Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeCheck(data)
}

// namesKey maps each nameKey of a family to the ID holding it.
func (s *RedisStore) namesKey(batch, check string) string {
	return fmt.Sprintf("%s:family:%s:%s:names", s.keyNS, batch, check)
}

// maxWatchRetries bounds optimistic retries when a watched key changes under a transaction.
const maxWatchRetries = 5

// watch runs fn under WATCH keys, retrying while the transaction is aborted by a concurrent
// write.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// nameHolder returns the ID holding field in the names hash, or "".
func nameHolder(ctx context.Context, tx *redis.Tx, key, field string) (string, error) {
	id, err := tx.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (s *RedisStore) InsertCheck(ctx context.Context, c *models.Check) error {
	row := c.Clone()
	prepareInsert(row)
	key := s.checkKey(row.ID)
	names := s.namesKey(row.BatchNumber, row.CheckNumber)
	field, unique := nameKey(row)
	fields, err := checkFields(row)
	if err != nil {
		return err
	}
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("check %s: %w", row.ID, ErrExists)
		}
		if unique {
			holder, err := nameHolder(ctx, tx, names, field)
			if err != nil {
				return err
			}
			if holder != "" {
				return fmt.Errorf("%s held by %s: %w", row.FileName(), holder, ErrNameTaken)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if unique {
				pipe.HSet(ctx, names, field, row.ID)
			}
			pipe.SAdd(ctx, s.allKey(), row.ID)
			pipe.SAdd(ctx, s.batchIndexKey(row.BatchNumber), row.ID)
			pipe.SAdd(ctx, s.familyKey(row.BatchNumber, row.CheckNumber), row.ID)
			return nil
		})
		return err
	}, key, names)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("check %s: family changed concurrently: %w", row.ID, ErrConflict)
	}
	if err != nil {
		return err
	}
	c.ID, c.Version, c.CreatedAt, c.UpdatedAt = row.ID, row.Version, row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *RedisStore) UpdateCheck(ctx context.Context, c *models.Check) error {
	key := s.checkKey(c.ID)
	names := s.namesKey(c.BatchNumber, c.CheckNumber)
	var next *models.Check
	err := s.watch(ctx, func(tx *redis.Tx) error {
		res, err := tx.HMGet(ctx, key, "version", "data").Result()
		if err != nil {
			return err
		}
		if res[0] == nil || res[1] == nil {
			return fmt.Errorf("check %s: %w", c.ID, ErrNotFound)
		}
		stored, err := strconv.ParseInt(fmt.Sprint(res[0]), 10, 64)
		if err != nil {
			return fmt.Errorf("check %s: bad version field: %w", c.ID, err)
		}
		if stored != c.Version {
			return fmt.Errorf("check %s at version %d, caller has %d: %w", c.ID, stored, c.Version, ErrConflict)
		}
		cur, err := decodeCheck(fmt.Sprint(res[1]))
		if err != nil {
			return err
		}
		next = c.Clone()
		next.Version = stored + 1
		next.UpdatedAt = now()
		next.CreatedAt = cur.CreatedAt

		oldNames := s.namesKey(cur.BatchNumber, cur.CheckNumber)
		oldField, hadKey := nameKey(cur)
		newField, hasKey := nameKey(next)
		moved := oldNames != names || oldField != newField || hadKey != hasKey
		releaseOld := false
		if moved && hasKey {
			holder, err := nameHolder(ctx, tx, names, newField)
			if err != nil {
				return err
			}
			if holder != "" && holder != c.ID {
				return fmt.Errorf("%s held by %s: %w", next.FileName(), holder, ErrNameTaken)
			}
		}
		if moved && hadKey {
			holder, err := nameHolder(ctx, tx, oldNames, oldField)
			if err != nil {
				return err
			}
			releaseOld = holder == c.ID
		}

		fields, err := checkFields(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if releaseOld {
				pipe.HDel(ctx, oldNames, oldField)
			}
			if moved && hasKey {
				pipe.HSet(ctx, names, newField, c.ID)
			}
			if cur.BatchNumber != next.BatchNumber || cur.CheckNumber != next.CheckNumber {
				pipe.SRem(ctx, s.batchIndexKey(cur.BatchNumber), c.ID)
				pipe.SRem(ctx, s.familyKey(cur.BatchNumber, cur.CheckNumber), c.ID)
				pipe.SAdd(ctx, s.batchIndexKey(next.BatchNumber), c.ID)
				pipe.SAdd(ctx, s.familyKey(next.BatchNumber, next.CheckNumber), c.ID)
			}
			return nil
		})
		return err
	}, key, names)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("check %s changed concurrently: %w", c.ID, ErrConflict)
	}
	if err != nil {
		return err
	}
	c.Version, c.UpdatedAt, c.CreatedAt = next.Version, next.UpdatedAt, next.CreatedAt
	return nil
}

func (s *RedisStore) DeleteCheck(ctx context.Context, id string) error {
	key := s.checkKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, "data").Result()
		if err == redis.Nil {
			return fmt.Errorf("check %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		cur, err := decodeCheck(data)
		if err != nil {
			return err
		}
		names := s.namesKey(cur.BatchNumber, cur.CheckNumber)
		field, unique := nameKey(cur)
		release := false
		if unique {
			holder, err := nameHolder(ctx, tx, names, field)
			if err != nil {
				return err
			}
			release = holder == id
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if release {
				pipe.HDel(ctx, names, field)
			}
			pipe.SRem(ctx, s.allKey(), id)
			pipe.SRem(ctx, s.batchIndexKey(cur.BatchNumber), id)
			pipe.SRem(ctx, s.familyKey(cur.BatchNumber, cur.CheckNumber), id)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) ListChecks(ctx context.Context, f Filter) ([]*models.Check, error) {
	index := s.allKey()
	switch {
	case f.BatchNumber != "" && f.CheckNumber != "":
		index = s.familyKey(f.BatchNumber, f.CheckNumber)
	case f.BatchNumber != "":
		index = s.batchIndexKey(f.BatchNumber)
	}
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGet(ctx, s.checkKey(id), "data")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}
	var out []*models.Check
	for _, cmd := range cmds {
		data, err := cmd.(*redis.StringCmd).Result()
		if err == redis.Nil {
			// index entry outlived its row; skip it
			continue
		}
		if err != nil {
			return nil, err
		}
		c, err := decodeCheck(data)
		if err != nil {
			return nil, err
		}
		if f.Match(c) {
			out = append(out, c)
		}
	}
	sortChecks(out)
	return out, nil
}

func (s *RedisStore) GetBatch(ctx context.Context, number string) (*models.Batch, error) {
	data, err := s.client.HGet(ctx, s.batchKey(number), "data").Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("batch %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var b models.Batch
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &b, nil
}

func (s *RedisStore) SaveBatch(ctx context.Context, b *models.Batch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(ctx, s.batchKey(b.Number), "data", string(data)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("batch %s: %w", b.Number, ErrExists)
	}
	return nil
}
