package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sudooom.social.dm/internal/workerpool"
)

// Scheduler 任务调度器
// 到期任务提交到共享的 Worker Pool 执行
type Scheduler struct {
	wheel     *TimeWheel       // 时间轮
	pool      *workerpool.Pool // 工作协程池
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	running   bool
	runningMu sync.RWMutex
}

// NewScheduler 创建任务调度器
func NewScheduler(pool *workerpool.Pool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		wheel:   NewTimeWheel(),
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default(),
		running: false,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("调度器已经在运行中")
	}
	s.running = true
	s.runningMu.Unlock()

	// 启动时钟协程
	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("Task scheduler started")

	return nil
}

// tickLoop 时钟循环协程
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := s.wheel.GetTicker()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.onTick()
		}
	}
}

// onTick 时钟触发处理
func (s *Scheduler) onTick() {
	// 推进时间轮,获取当前槽位的所有任务
	tasks := s.wheel.Tick()

	if len(tasks) == 0 {
		return
	}

	s.logger.Debug("Timer wheel tick",
		"currentSlot", s.wheel.GetCurrentSlot(),
		"taskCount", len(tasks))

	for _, t := range tasks {
		fired := t
		s.pool.Submit(func() {
			if err := fired.Execute(s.ctx); err != nil {
				s.logger.Error("Scheduled task failed",
					"taskID", fired.ID,
					"target", fired.Target,
					"error", err)
			}
		})
	}
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	// 发送取消信号
	s.cancel()

	// 等待时钟协程退出
	s.wg.Wait()

	// 停止时间轮
	s.wheel.Stop()

	s.logger.Info("Task scheduler stopped")
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return fmt.Errorf("调度器未运行")
	}

	if task == nil {
		return fmt.Errorf("任务不能为空")
	}

	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}

	s.wheel.AddTask(task)
	return nil
}

// RemoveTask 删除任务
// 任务不存在不视为错误 (可能已触发)
func (s *Scheduler) RemoveTask(taskID string) bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running || taskID == "" {
		return false
	}

	return s.wheel.RemoveTask(taskID)
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	return s.running
}
