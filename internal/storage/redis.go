package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"gradus/internal/model"
)

const defaultRedisPrefix = "gradus"

// RedisStore keeps every record as a JSON string value. Run and checkpoint
// membership sets make the listings cheap:
//
//	<prefix>:runs                    set of run ids
//	<prefix>:run:<id>                summary
//	<prefix>:run:<id>:checkpoints    set of checkpoint names
//	<prefix>:run:<id>:checkpoint:<n> checkpoint
//	<prefix>:run:<id>:diagnostics    diagnostics
//	<prefix>:run:<id>:returns        return history
type RedisStore struct {
	opts   *redis.Options
	prefix string

	mu     sync.RWMutex
	client *redis.Client
}

// NewRedisStore accepts a host:port address or a redis:// URL.
func NewRedisStore(addr string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	return &RedisStore{opts: opts, prefix: defaultRedisPrefix}, nil
}

// WithPrefix namespaces every key; tests use it to isolate runs.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

func (s *RedisStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	client := redis.NewClient(s.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis %s: %w", s.opts.Addr, err)
	}
	s.client = client
	return nil
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	if err := checkpointKeys(checkpoint); err != nil {
		return err
	}
	client, err := s.getClient()
	if err != nil {
		return err
	}
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("run", checkpoint.RunID, "checkpoint", checkpoint.Name), payload, 0)
		pipe.SAdd(ctx, s.key("run", checkpoint.RunID, "checkpoints"), checkpoint.Name)
		return nil
	})
	return err
}

func (s *RedisStore) GetCheckpoint(ctx context.Context, runID, name string) (model.Checkpoint, bool, error) {
	payload, ok, err := s.get(ctx, s.key("run", runID, "checkpoint", name))
	if err != nil || !ok {
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s/%s: %w", runID, name, err)
	}
	return checkpoint, true, nil
}

func (s *RedisStore) ListCheckpoints(ctx context.Context, runID string) ([]string, error) {
	return s.members(ctx, s.key("run", runID, "checkpoints"))
}

func (s *RedisStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	if err := validateKey("run id", summary.RunID); err != nil {
		return err
	}
	client, err := s.getClient()
	if err != nil {
		return err
	}
	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("run", summary.RunID), payload, 0)
		pipe.SAdd(ctx, s.key("runs"), summary.RunID)
		return nil
	})
	return err
}

func (s *RedisStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	payload, ok, err := s.get(ctx, s.key("run", runID))
	if err != nil || !ok {
		return model.RunSummary{}, false, err
	}
	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *RedisStore) ListRuns(ctx context.Context) ([]string, error) {
	return s.members(ctx, s.key("runs"))
}

func (s *RedisStore) SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.UpdateDiagnostics) error {
	if err := validateKey("run id", runID); err != nil {
		return err
	}
	payload, err := EncodeDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.set(ctx, s.key("run", runID, "diagnostics"), payload)
}

func (s *RedisStore) GetDiagnostics(ctx context.Context, runID string) ([]model.UpdateDiagnostics, bool, error) {
	payload, ok, err := s.get(ctx, s.key("run", runID, "diagnostics"))
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *RedisStore) SaveReturnHistory(ctx context.Context, runID string, history []float64) error {
	if err := validateKey("run id", runID); err != nil {
		return err
	}
	payload, err := EncodeReturnHistory(history)
	if err != nil {
		return err
	}
	return s.set(ctx, s.key("run", runID, "returns"), payload)
}

func (s *RedisStore) GetReturnHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.get(ctx, s.key("run", runID, "returns"))
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeReturnHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode return history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *RedisStore) getClient() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, errNotInitialized
	}
	return s.client, nil
}

func (s *RedisStore) set(ctx context.Context, key string, payload []byte) error {
	client, err := s.getClient()
	if err != nil {
		return err
	}
	return client.Set(ctx, key, payload, 0).Err()
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, false, err
	}
	payload, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *RedisStore) members(ctx context.Context, key string) ([]string, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	out, err := client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}
