package task

import (
	"sync"
	"time"
)

const (
	// SlotCount 时间轮槽位数量 (60秒)
	SlotCount = 60
)

// TimeWheel 时间轮
// index 记录任务所在槽位, 取消时无需知道原始延迟
type TimeWheel struct {
	slots       [SlotCount]*bucket // 60个槽位
	currentSlot int              // 当前槽位索引
	index       map[string]int   // 任务ID -> 槽位索引
	mu          sync.RWMutex     // 保护 currentSlot 和 index
	ticker      *time.Ticker     // 1秒定时器
}

// NewTimeWheel 创建时间轮
func NewTimeWheel() *TimeWheel {
	tw := &TimeWheel{
		currentSlot: 0,
		index:       make(map[string]int),
		ticker:      time.NewTicker(time.Second),
	}

	// 初始化所有槽位
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = newBucket()
	}

	return tw
}

// AddTask 添加任务到时间轮
// 同一ID重复添加会先删除旧任务
func (tw *TimeWheel) AddTask(task *Task) {
	if task.Delay < 1 || task.Delay > SlotCount {
		task.Delay = 1 // 默认1秒
	}

	tw.mu.Lock()
	if old, exists := tw.index[task.ID]; exists {
		tw.slots[old].remove(task.ID)
	}
	targetSlot := (tw.currentSlot + task.Delay) % SlotCount
	tw.index[task.ID] = targetSlot
	tw.mu.Unlock()

	tw.slots[targetSlot].put(task)
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	targetSlot, exists := tw.index[taskID]
	if exists {
		delete(tw.index, taskID)
	}
	tw.mu.Unlock()

	if !exists {
		return false
	}

	return tw.slots[targetSlot].remove(taskID)
}

// Tick 推进时间轮 (由调度器调用)
func (tw *TimeWheel) Tick() []*Task {
	// 推进到下一个槽位
	tw.mu.Lock()
	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	currentSlot := tw.currentSlot
	tw.mu.Unlock()

	// 获取当前槽位的所有任务并清空
	tasks := tw.slots[currentSlot].drain()

	if len(tasks) > 0 {
		tw.mu.Lock()
		for _, task := range tasks {
			delete(tw.index, task.ID)
		}
		tw.mu.Unlock()
	}

	return tasks
}

// GetCurrentSlot 获取当前槽位索引
func (tw *TimeWheel) GetCurrentSlot() int {
	tw.mu.RLock()
	defer tw.mu.RUnlock()

	return tw.currentSlot
}

// Stop 停止时间轮
func (tw *TimeWheel) Stop() {
	tw.ticker.Stop()
}

// GetTicker 获取定时器
func (tw *TimeWheel) GetTicker() *time.Ticker {
	return tw.ticker
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	total := 0
	for i := 0; i < SlotCount; i++ {
		total += tw.slots[i].size()
	}
	return total
}
