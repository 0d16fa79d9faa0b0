package task

import "sync"

// bucket 时间轮单个槽位，持有该秒到期的延迟任务
// 典型任务是在线宽限下线与输入状态过期，数量小，map 足够
type bucket struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newBucket() *bucket {
	return &bucket{
		tasks: make(map[string]*Task),
	}
}

// put 放入任务，同 ID 直接覆盖
func (b *bucket) put(task *Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tasks[task.ID] = task
}

// remove 取消任务，返回任务是否存在
func (b *bucket) remove(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tasks[taskID]; !exists {
		return false
	}
	delete(b.tasks, taskID)
	return true
}

// drain 取走全部任务并清空槽位
func (b *bucket) drain() []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.tasks) == 0 {
		return nil
	}

	tasks := make([]*Task, 0, len(b.tasks))
	for _, task := range b.tasks {
		tasks = append(tasks, task)
	}
	b.tasks = make(map[string]*Task)
	return tasks
}

func (b *bucket) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.tasks)
}
