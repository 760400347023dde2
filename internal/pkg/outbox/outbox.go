package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"lesionlog/internal/pkg/metrics"
)

// Job 是一次投递动作（例如发送欢迎邮件）。
type Job func(ctx context.Context) error

// ErrClosed 在 Outbox 关闭后提交任务时返回。
var ErrClosed = errors.New("outbox closed")

// ErrFull 在队列已满时返回（非阻塞提交）。
var ErrFull = errors.New("outbox full")

type envelope struct {
	name string
	job  Job
}

// Outbox 是尽力而为的异步投递池：固定数量的 worker 消费有界队列。
//
// 提交失败或执行失败只记录日志，不会影响调用方的主流程。
type Outbox struct {
	logger  *slog.Logger
	workers int
	jobs    chan envelope
	timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex // 保护 closed 与 jobs 的发送/关闭
	closed bool

	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 是 Outbox 计数器快照。
type Stats struct {
	Enqueued  int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// New 创建 Outbox。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func New(logger *slog.Logger, workers int, capacity int) *Outbox {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Outbox{
		logger:  logger,
		workers: workers,
		jobs:    make(chan envelope, capacity),
		timeout: 30 * time.Second,
	}
}

// Start 启动 worker。
//
// ctx 只作为任务上下文的基础值（取消不会中断已入队任务）；worker 在 Shutdown 关闭队列并处理完剩余任务后退出。
func (o *Outbox) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
}

func (o *Outbox) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	for env := range o.jobs {
		metrics.OutboxPending.Set(float64(len(o.jobs)))
		o.run(ctx, env, id)
	}
}

func (o *Outbox) run(ctx context.Context, env envelope, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			o.panics.Add(1)
			metrics.OutboxJobsTotal.WithLabelValues("panicked").Inc()
			o.logger.Error("outbox job panic recovered",
				slog.String("job", env.name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if err := env.job(jobCtx); err != nil {
		o.failed.Add(1)
		metrics.OutboxJobsTotal.WithLabelValues("failed").Inc()
		o.logger.Warn("outbox job failed",
			slog.String("job", env.name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	o.succeeded.Add(1)
	metrics.OutboxJobsTotal.WithLabelValues("succeeded").Inc()
}

// Submit 非阻塞入队；队列满或已关闭时返回错误，调用方只需记录日志。
func (o *Outbox) Submit(name string, job Job) error {
	if job == nil {
		return fmt.Errorf("outbox job %q is nil", name)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.jobs <- envelope{name: name, job: job}:
		o.enqueued.Add(1)
		metrics.OutboxJobsTotal.WithLabelValues("enqueued").Inc()
		metrics.OutboxPending.Set(float64(len(o.jobs)))
		return nil
	default:
		o.dropped.Add(1)
		metrics.OutboxJobsTotal.WithLabelValues("dropped").Inc()
		o.logger.Warn("outbox full, drop job",
			slog.String("job", name),
			slog.Int("capacity", cap(o.jobs)))
		return ErrFull
	}
}

// Shutdown 拒绝新任务并等待已入队任务处理完毕，超时返回错误。
func (o *Outbox) Shutdown(timeout time.Duration) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.closed = true
	close(o.jobs)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("outbox drained")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("outbox shutdown timeout after %s", timeout)
	}
}

// Stats 返回计数器快照。
func (o *Outbox) Stats() Stats {
	return Stats{
		Enqueued:  o.enqueued.Load(),
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Dropped:   o.dropped.Load(),
		Panics:    o.panics.Load(),
	}
}
