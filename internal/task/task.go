package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数类型
type TaskFunc func(ctx context.Context, target string) error

// Task 延迟任务定义
type Task struct {
	ID        string    `json:"id"`        // 任务唯一ID
	Target    string    `json:"target"`    // 操作对象标识
	Delay     int       `json:"delay"`     // 延迟秒数 (1-60)
	Fn        TaskFunc  `json:"-"`         // 执行函数
	CreatedAt time.Time `json:"createdAt"` // 创建时间
}

// NewTask 创建新任务
func NewTask(id, target string, delay int, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
