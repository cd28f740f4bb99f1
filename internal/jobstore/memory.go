package jobstore

import (
	"context"
	"sync"
	"time"

	"allocexport/internal/model"
)

// MemoryStore 进程内任务存储。单进程、不持久化，
// 终态记录超过 TTL 后在下一次访问时清除。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*model.ExportJob
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore 创建内存任务存储，ttl<=0 表示不过期
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.ExportJob),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Begin 实现 Store
func (s *MemoryStore) Begin(ctx context.Context, id, format string, filters map[string]string) (*model.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeExpiredLocked(now)

	j, err := applyBegin(s.jobs[id], id, format, filters, now)
	if err != nil {
		return nil, err
	}
	s.jobs[id] = j
	return copyJob(j), nil
}

// Complete 实现 Store
func (s *MemoryStore) Complete(ctx context.Context, id string, params CompleteParams) (*model.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := applyComplete(s.jobs[id], params, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[id] = j
	return copyJob(j), nil
}

// Fail 实现 Store
func (s *MemoryStore) Fail(ctx context.Context, id string, jerr model.JobError) (*model.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := applyFail(s.jobs[id], jerr, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[id] = j
	return copyJob(j), nil
}

// Load 实现 Store
func (s *MemoryStore) Load(ctx context.Context, id string) (*model.ExportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(s.now())

	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return copyJob(j), true, nil
}

// purgeExpiredLocked 清除超过 TTL 的终态记录；PENDING 永不清除
func (s *MemoryStore) purgeExpiredLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, j := range s.jobs {
		if j.Status.Terminal() && now.Sub(j.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func copyJob(j *model.ExportJob) *model.ExportJob {
	cp := *j
	return &cp
}
