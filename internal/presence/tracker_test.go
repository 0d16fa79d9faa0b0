package presence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.social.dm/internal/task"
	"sudooom.social.dm/internal/workerpool"
	"sudooom.social.dm/pkg/proto"
)

// memoryStore 内存版在线状态存储
type memoryStore struct {
	mu     sync.Mutex
	online map[int64]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{online: make(map[int64]bool)}
}

func (s *memoryStore) SetOnline(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *memoryStore) SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	return nil
}

func (s *memoryStore) OnlineSnapshot(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]int64, 0, len(s.online))
	for id := range s.online {
		users = append(users, id)
	}
	return users, nil
}

func (s *memoryStore) isOnline(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// recordCaster 记录广播事件
type recordCaster struct {
	mu     sync.Mutex
	events []string
}

func (c *recordCaster) BroadcastEvent(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordCaster) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

// setupTracker 构造带真实调度器的跟踪器，宽限 1 秒
func setupTracker(t *testing.T) (*Tracker, *memoryStore, *recordCaster) {
	t.Helper()

	pool := workerpool.New(4, 64, slog.Default())
	scheduler := task.NewScheduler(pool)
	require.NoError(t, scheduler.Start())

	t.Cleanup(func() {
		scheduler.Stop()
		pool.Shutdown()
	})

	store := newMemoryStore()
	caster := &recordCaster{}
	tracker := NewTracker(scheduler, store, caster, time.Second)
	return tracker, store, caster
}

// TestOnlineBroadcastOnce 首个连接广播上线，后续连接不重复广播
func TestOnlineBroadcastOnce(t *testing.T) {
	tracker, store, caster := setupTracker(t)
	ctx := context.Background()

	wentOnline := tracker.OnConnect(ctx, 100, 1)
	assert.True(t, wentOnline)
	assert.True(t, store.isOnline(100))
	assert.Equal(t, 1, caster.count(proto.EventUserOnline))

	// 第二台设备上线不再广播
	wentOnline = tracker.OnConnect(ctx, 100, 2)
	assert.False(t, wentOnline)
	assert.Equal(t, 1, caster.count(proto.EventUserOnline))
	assert.True(t, tracker.IsOnline(100))
}

// TestOfflineAfterGrace 最后一个连接断开,宽限期后广播下线
func TestOfflineAfterGrace(t *testing.T) {
	tracker, store, caster := setupTracker(t)
	ctx := context.Background()

	tracker.OnConnect(ctx, 200, 1)
	tracker.OnDisconnect(ctx, 200, 1)

	// 宽限期内仍视为在线
	assert.True(t, store.isOnline(200))
	assert.Equal(t, 0, caster.count(proto.EventUserOffline))

	// 等待宽限期 + 时间轮推进
	time.Sleep(3 * time.Second)

	assert.False(t, store.isOnline(200))
	assert.Equal(t, 1, caster.count(proto.EventUserOffline))
	assert.False(t, tracker.IsOnline(200))
}

// TestReconnectWithinGrace 宽限期内重连不产生下线事件
func TestReconnectWithinGrace(t *testing.T) {
	tracker, store, caster := setupTracker(t)
	ctx := context.Background()

	tracker.OnConnect(ctx, 300, 1)
	tracker.OnDisconnect(ctx, 300, 1)

	// 立即重连
	wentOnline := tracker.OnConnect(ctx, 300, 2)
	assert.False(t, wentOnline, "宽限期内重连不算重新上线")

	time.Sleep(3 * time.Second)

	// 既没有下线事件,也没有第二次上线事件
	assert.Equal(t, 0, caster.count(proto.EventUserOffline))
	assert.Equal(t, 1, caster.count(proto.EventUserOnline))
	assert.True(t, store.isOnline(300))
	assert.True(t, tracker.IsOnline(300))
}

// TestMultiDeviceDisconnect 还有其他设备在线时断开不触发宽限任务
func TestMultiDeviceDisconnect(t *testing.T) {
	tracker, store, caster := setupTracker(t)
	ctx := context.Background()

	tracker.OnConnect(ctx, 400, 1)
	tracker.OnConnect(ctx, 400, 2)

	tracker.OnDisconnect(ctx, 400, 1)
	time.Sleep(3 * time.Second)

	// 另一台设备还在,不下线
	assert.True(t, store.isOnline(400))
	assert.Equal(t, 0, caster.count(proto.EventUserOffline))

	tracker.OnDisconnect(ctx, 400, 2)
	time.Sleep(3 * time.Second)

	assert.False(t, store.isOnline(400))
	assert.Equal(t, 1, caster.count(proto.EventUserOffline))
}

// TestDuplicateDisconnectSameConn 心跳超时与会话退出对同一连接各回调一次,
// 只应计一次断开,另一台设备不能被误判下线
func TestDuplicateDisconnectSameConn(t *testing.T) {
	tracker, store, caster := setupTracker(t)
	ctx := context.Background()

	tracker.OnConnect(ctx, 900, 1)
	tracker.OnConnect(ctx, 900, 2)

	// 连接 1 超时后清理流程再次回调
	tracker.OnDisconnect(ctx, 900, 1)
	tracker.OnDisconnect(ctx, 900, 1)
	time.Sleep(3 * time.Second)

	assert.True(t, store.isOnline(900))
	assert.True(t, tracker.IsOnline(900))
	assert.Equal(t, 0, caster.count(proto.EventUserOffline))
}

// TestTrackerConcurrent 并发连接/断开不会产生多余事件
func TestTrackerConcurrent(t *testing.T) {
	tracker, _, caster := setupTracker(t)
	ctx := context.Background()

	const users = 50
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			tracker.OnConnect(ctx, userID, 1)
			tracker.OnConnect(ctx, userID, 2)
			tracker.OnDisconnect(ctx, userID, 1)
		}(int64(1000 + i))
	}
	wg.Wait()

	// 每个用户恰好一次上线,且都还有一个连接在线
	assert.Equal(t, users, caster.count(proto.EventUserOnline))
	assert.Equal(t, 0, caster.count(proto.EventUserOffline))
}
