// Package workerpool 固定大小的协程池，承接延迟任务回调与下行推送的执行。
package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

// Job 池内执行的任务函数
type Job func()

// Pool 固定 worker 数的协程池
// Shutdown 后拒绝新任务，但会把队列里已提交的任务执行完
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New 创建并启动协程池
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.run(i)
	}

	pool.logger.Info("Worker pool started",
		"workers", workers,
		"queue_size", queueSize)

	return pool
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	// 队列关闭后 range 自然退出，保证排队任务被执行完
	for job := range p.jobs {
		p.execute(id, job)
	}
}

// execute 单个任务的 panic 不能拖垮 worker
func (p *Pool) execute(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker job panic recovered",
				"worker_id", id,
				"panic", r)
		}
	}()
	job()
}

// Submit 提交任务，队列满时阻塞；池已关闭返回 false
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// TrySubmit 提交任务，队列满或池已关闭立即返回 false
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// QueueDepth 当前排队任务数
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// Shutdown 关闭池并等待队列中的任务执行完
func (p *Pool) Shutdown() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("Worker pool shutdown completed")
}
