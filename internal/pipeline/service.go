package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"allocexport/internal/jobstore"
	"allocexport/internal/model"
	"allocexport/internal/source"
)

// Service 异步导出服务：Begin 后台启动执行器，进度事件可订阅
type Service struct {
	runner   *Runner
	store    jobstore.Store
	dataFile string

	mu       sync.Mutex
	watchers map[string][]chan ProgressEvent
}

// NewService 创建导出服务。dataFile 为分配结果数据文件路径。
func NewService(runner *Runner, store jobstore.Store, dataFile string) *Service {
	return &Service{
		runner:   runner,
		store:    store,
		dataFile: dataFile,
		watchers: make(map[string][]chan ProgressEvent),
	}
}

// Start 创建任务并在后台执行，立即返回 PENDING 记录。
// 格式校验在执行器内完成：非法格式的任务会以 FAILED 终结而不是拒绝创建。
func (s *Service) Start(ctx context.Context, format string, filters map[string]string) (*model.ExportJob, error) {
	id := uuid.NewString()

	job, err := s.store.Begin(ctx, id, format, filters)
	if err != nil {
		return nil, err
	}

	go s.execute(id, format, filters)

	return job, nil
}

// Store 任务存储（供 HTTP 层查询）
func (s *Service) Store() jobstore.Store {
	return s.store
}

// Subscribe 订阅任务进度事件。返回的取消函数必须调用，
// 任务结束后通道关闭；已终态的任务立即得到关闭的通道。
func (s *Service) Subscribe(id string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.mu.Unlock()

	// 注册后再查终态：若任务已结束且 finish 没赶上这次注册，这里补上关闭
	if job, found, err := s.store.Load(context.Background(), id); err == nil && found && job.Status.Terminal() {
		if s.unsubscribe(id, ch) {
			close(ch)
		}
		return ch, func() {}
	}

	cancel := func() {
		s.unsubscribe(id, ch)
	}
	return ch, cancel
}

// unsubscribe 从订阅表移除通道，返回是否由调用方负责关闭
func (s *Service) unsubscribe(id string, ch chan ProgressEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.watchers[id]
	for i, c := range chans {
		if c == ch {
			s.watchers[id] = append(chans[:i], chans[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) publish(id string, ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[id] {
		// 慢消费者丢弃事件而不是阻塞管道
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[id] {
		close(ch)
	}
	delete(s.watchers, id)
}

// execute 在独立 goroutine 中跑完整个管道。任务生命周期与请求无关，
// 所以这里不使用请求上下文。
func (s *Service) execute(id, format string, filters map[string]string) {
	ctx := context.Background()
	defer s.finish(id)

	src, err := source.OpenCSV(s.dataFile, filters)
	if err != nil {
		s.store.Fail(ctx, id, model.ToJobError(err))
		s.publish(id, ProgressEvent{Percent: 100, Stage: "失败: " + err.Error()})
		return
	}
	defer src.Close()

	s.runner.Run(ctx, id, format, src, func(ev ProgressEvent) {
		s.publish(id, ev)
	})
}
