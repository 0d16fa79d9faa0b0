package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.social.dm/internal/task"
	"sudooom.social.dm/pkg/proto"
)

// shardCount 分片数，避免全局锁
const shardCount = 32

// OnlineStore 在线状态持久化接口
type OnlineStore interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error
	OnlineSnapshot(ctx context.Context) ([]int64, error)
}

// Broadcaster 上下线事件广播接口
type Broadcaster interface {
	BroadcastEvent(event string, payload any) error
}

// entry 单个用户的在线状态
// conns 按连接 ID 记录，同一连接的断开回调重复触发（心跳超时 +
// 会话清理）只会移除一次；gen 在每次集合变化时递增，离线宽限任务
// 触发时校验自己持有的代数，过期任务直接放弃，重连不会产生虚假下线
type entry struct {
	conns  map[int64]struct{}
	gen    uint64
	online bool
}

type shard struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// Tracker 多设备在线状态跟踪器
// 用户从 0 连接变为 1 连接时广播上线；最后一个连接断开后进入
// 宽限期，期间重连则静默取消下线
type Tracker struct {
	shards    [shardCount]*shard
	scheduler *task.Scheduler
	store     OnlineStore
	caster    Broadcaster
	grace     time.Duration
	logger    *slog.Logger
}

// NewTracker 创建在线状态跟踪器
func NewTracker(scheduler *task.Scheduler, store OnlineStore, caster Broadcaster, grace time.Duration) *Tracker {
	t := &Tracker{
		scheduler: scheduler,
		store:     store,
		caster:    caster,
		grace:     grace,
		logger:    slog.Default(),
	}
	for i := 0; i < shardCount; i++ {
		t.shards[i] = &shard{entries: make(map[int64]*entry)}
	}
	return t
}

func (t *Tracker) shardFor(userID int64) *shard {
	return t.shards[uint64(userID)%shardCount]
}

func offlineTaskID(userID int64) string {
	return fmt.Sprintf("presence:offline:%d", userID)
}

// OnConnect 连接建立回调
// 返回用户是否由此从离线变为在线
func (t *Tracker) OnConnect(ctx context.Context, userID, connID int64) bool {
	s := t.shardFor(userID)

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{conns: make(map[int64]struct{})}
		s.entries[userID] = e
	}
	e.conns[connID] = struct{}{}
	e.gen++
	wentOnline := !e.online
	e.online = true
	s.mu.Unlock()

	// 宽限期内重连，取消挂起的下线任务
	t.scheduler.RemoveTask(offlineTaskID(userID))

	if wentOnline {
		if err := t.store.SetOnline(ctx, userID); err != nil {
			t.logger.Warn("Failed to persist online state", "userId", userID, "error", err)
		}
		_ = t.caster.BroadcastEvent(proto.EventUserOnline, &proto.UserOnlineEvent{UserID: userID})
		t.logger.Info("User online", "userId", userID)
	}

	return wentOnline
}

// OnDisconnect 连接断开回调
// 同一连接重复断开是无操作；最后一个连接移除后不立即广播下线，
// 而是调度宽限任务
func (t *Tracker) OnDisconnect(ctx context.Context, userID, connID int64) {
	s := t.shardFor(userID)

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, present := e.conns[connID]; !present {
		// 该连接已经被移除过（例如心跳超时之后会话清理再次回调）
		s.mu.Unlock()
		return
	}
	delete(e.conns, connID)
	e.gen++
	lastConn := len(e.conns) == 0
	myGen := e.gen
	s.mu.Unlock()

	if !lastConn {
		return
	}

	delay := int(t.grace / time.Second)
	if delay < 1 {
		delay = 1
	}

	offlineTask := task.NewTask(offlineTaskID(userID), fmt.Sprintf("%d", userID), delay, func(taskCtx context.Context, target string) error {
		t.finalizeOffline(taskCtx, userID, myGen)
		return nil
	})

	if err := t.scheduler.AddTask(offlineTask); err != nil {
		t.logger.Warn("Failed to schedule offline grace task, finalizing immediately",
			"userId", userID, "error", err)
		t.finalizeOffline(ctx, userID, myGen)
	}
}

// finalizeOffline 宽限期结束后的下线确认
func (t *Tracker) finalizeOffline(ctx context.Context, userID int64, gen uint64) {
	s := t.shardFor(userID)

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok || e.gen != gen || len(e.conns) > 0 {
		// 宽限期内状态已变化，放弃本次下线
		s.mu.Unlock()
		return
	}
	delete(s.entries, userID)
	s.mu.Unlock()

	lastSeen := time.Now()
	if err := t.store.SetOffline(ctx, userID, lastSeen); err != nil {
		t.logger.Warn("Failed to persist offline state", "userId", userID, "error", err)
	}
	_ = t.caster.BroadcastEvent(proto.EventUserOffline, &proto.UserOfflineEvent{
		UserID:   userID,
		LastSeen: lastSeen.UnixMilli(),
	})
	t.logger.Info("User offline", "userId", userID, "grace", t.grace)
}

// IsOnline 本节点视角的在线判断
func (t *Tracker) IsOnline(userID int64) bool {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	return ok && e.online
}

// Snapshot 全局在线用户快照
func (t *Tracker) Snapshot(ctx context.Context) ([]int64, error) {
	return t.store.OnlineSnapshot(ctx)
}
