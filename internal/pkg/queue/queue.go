package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"contactbook/internal/pkg/metrics"
)

// ErrClosed 队列已关闭。
var ErrClosed = errors.New("queue closed")

// Task 后台执行的任务体。
type Task func(ctx context.Context) error

type job struct {
	name string
	run  Task
}

// Options worker 池配置。
type Options struct {
	Workers     int           // worker 数量（至少 1）
	Capacity    int           // 缓冲容量（至少 1）
	MaxAttempts int           // 单个任务最大尝试次数（至少 1）
	Backoff     time.Duration // 第 n 次重试前等待 n*Backoff
	JobTimeout  time.Duration // 单次尝试超时，0 表示不限
}

// Queue 内存任务队列与固定 worker 池，用于把邮件等副作用移出请求路径。
type Queue struct {
	logger *slog.Logger
	opts   Options
	jobs   chan job

	wg     sync.WaitGroup
	closed atomic.Bool

	stats queueStats
}

type queueStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Retried   int64
	Dropped   int64
	Panics    int64
}

// New 创建队列，需调用 Start 启动 worker。
func New(logger *slog.Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		logger: logger,
		opts:   opts,
		jobs:   make(chan job, opts.Capacity),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			metrics.QueuePending.Set(float64(len(q.jobs)))
			q.process(ctx, j, id)
		}
	}
}

// process 按 MaxAttempts 重试任务，最终失败只记录日志。
func (q *Queue) process(ctx context.Context, j job, workerID int) {
	var err error
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			q.stats.retried.Add(1)
			if !sleepCtx(ctx, time.Duration(attempt-1)*q.opts.Backoff) {
				break
			}
		}
		err = q.runOnce(ctx, j)
		if err == nil {
			q.stats.succeeded.Add(1)
			return
		}
		q.logger.Warn("job attempt failed",
			slog.String("job", j.name),
			slog.Int("worker_id", workerID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	q.stats.failed.Add(1)
	q.logger.Error("job failed", slog.String("job", j.name), slog.String("error", errString(err)))
}

func (q *Queue) runOnce(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.logger.Error("job panic recovered",
				slog.String("job", j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	runCtx := ctx
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}
	return j.run(runCtx)
}

// Submit 非阻塞提交任务；队列已满或已关闭时返回 false。
func (q *Queue) Submit(name string, task Task) bool {
	if task == nil || q.closed.Load() {
		return false
	}
	select {
	case q.jobs <- job{name: name, run: task}:
		q.stats.submitted.Add(1)
		metrics.QueuePending.Set(float64(len(q.jobs)))
		return true
	default:
		q.stats.dropped.Add(1)
		q.logger.Warn("queue full, drop job",
			slog.String("job", name),
			slog.Int("capacity", cap(q.jobs)))
		return false
	}
}

// Shutdown 停止接收新任务并等待已入队任务执行完毕，ctx 结束时提前返回。
func (q *Queue) Shutdown(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(q.jobs)
	q.logger.Info("queue draining", slog.Int("pending", len(q.jobs)))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.stats.submitted.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Retried:   q.stats.retried.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Pending 返回待处理任务数。
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return "context canceled before retry"
	}
	return err.Error()
}
