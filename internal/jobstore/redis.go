package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"allocexport/internal/model"
	"allocexport/internal/retry"
)

// RedisStore 网络化键值后端。每个任务一个命名空间键，带 TTL，
// 所有读写都经过重试执行器。
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	retryOpts retry.Options
	now       func() time.Time
}

// RedisConfig Redis 后端配置
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	TTL       time.Duration
	Retry     retry.Options
}

// NewRedisStore 创建 Redis 任务存储
func NewRedisStore(cfg RedisConfig) *RedisStore {
	ns := cfg.Namespace
	if ns == "" {
		ns = "allocexport"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		namespace: ns,
		ttl:       cfg.TTL,
		retryOpts: cfg.Retry,
		now:       time.Now,
	}
}

// Close 关闭客户端连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// key 任务键按任务 id 命名空间化，并发任务绝不竞争同一条记录
func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:job:%s", s.namespace, id)
}

func (s *RedisStore) load(ctx context.Context, id string) (*model.ExportJob, bool, error) {
	var data []byte
	err := retry.Do(ctx, "jobstore_read", s.retryOpts, func() error {
		b, err := s.client.Get(ctx, s.key(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				data = nil
				return nil
			}
			return model.WrapIO("读取任务记录失败", err)
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	j, err := DecodeJob(data)
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (s *RedisStore) save(ctx context.Context, j *model.ExportJob) error {
	data, err := EncodeJob(j)
	if err != nil {
		return err
	}
	return retry.Do(ctx, "jobstore_write", s.retryOpts, func() error {
		if err := s.client.Set(ctx, s.key(j.ID), data, s.ttl).Err(); err != nil {
			return model.WrapIO("写入任务记录失败", err)
		}
		return nil
	})
}

// Begin 实现 Store
func (s *RedisStore) Begin(ctx context.Context, id, format string, filters map[string]string) (*model.ExportJob, error) {
	existing, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	j, err := applyBegin(existing, id, format, filters, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Complete 实现 Store
func (s *RedisStore) Complete(ctx context.Context, id string, params CompleteParams) (*model.ExportJob, error) {
	existing, found, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		existing = nil
	}
	j, err := applyComplete(existing, params, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Fail 实现 Store
func (s *RedisStore) Fail(ctx context.Context, id string, jerr model.JobError) (*model.ExportJob, error) {
	existing, found, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		existing = nil
	}
	j, err := applyFail(existing, jerr, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Load 实现 Store
func (s *RedisStore) Load(ctx context.Context, id string) (*model.ExportJob, bool, error) {
	return s.load(ctx, id)
}
