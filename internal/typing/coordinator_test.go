package typing

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/task"
	"sudooom.social.dm/internal/workerpool"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
)

// stubGuard 固定成员关系的会话校验
type stubGuard struct {
	members map[int64]bool
}

func (g *stubGuard) Conversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error) {
	if !g.members[userID] {
		return nil, errors.ErrNotMember
	}
	return &model.Conversation{ID: conversationID}, nil
}

// castRecord 一次会话范围下发的记录
type castRecord struct {
	excludeUserID int64
	event         *proto.TypingEvent
}

// recordCaster 记录会话范围事件
type recordCaster struct {
	mu      sync.Mutex
	records []castRecord
}

func (c *recordCaster) SendEventToConversation(conversationID, excludeUserID int64, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if te, ok := payload.(*proto.TypingEvent); ok {
		c.records = append(c.records, castRecord{excludeUserID: excludeUserID, event: te})
	}
	return nil
}

func (c *recordCaster) snapshot() []*proto.TypingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*proto.TypingEvent, len(c.records))
	for i, r := range c.records {
		out[i] = r.event
	}
	return out
}

func (c *recordCaster) excludes() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.records))
	for i, r := range c.records {
		out[i] = r.excludeUserID
	}
	return out
}

// setupCoordinator 构造带真实调度器的协调器，过期 1 秒
func setupCoordinator(t *testing.T) (*Coordinator, *recordCaster) {
	t.Helper()

	pool := workerpool.New(4, 64, slog.Default())
	scheduler := task.NewScheduler(pool)
	require.NoError(t, scheduler.Start())

	t.Cleanup(func() {
		scheduler.Stop()
		pool.Shutdown()
	})

	guard := &stubGuard{members: map[int64]bool{1: true, 2: true}}
	caster := &recordCaster{}
	return NewCoordinator(guard, caster, scheduler, time.Second), caster
}

// TestTypingBroadcast 测试输入状态广播
func TestTypingBroadcast(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))

	events := caster.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, int64(10), events[0].ConversationID)
	assert.Equal(t, int64(1), events[0].SenderID)
	assert.True(t, events[0].IsTyping)

	// 输入者自己的设备不在下发范围内
	assert.Equal(t, []int64{1}, caster.excludes())
}

// TestTypingNonMemberRejected 非成员上报被拒绝
func TestTypingNonMemberRejected(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	err := coord.SetTyping(ctx, 10, 99, true)
	assert.True(t, errors.Is(err, errors.ErrNotMember))
	assert.Empty(t, caster.snapshot())
}

// TestTypingAutoExpire 到期自动广播停止
func TestTypingAutoExpire(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))

	time.Sleep(3 * time.Second)

	events := caster.snapshot()
	require.Len(t, events, 2)
	assert.True(t, events[0].IsTyping)
	assert.False(t, events[1].IsTyping, "到期必须自动广播停止")
}

// TestTypingExplicitStop 显式停止后不再有到期事件
func TestTypingExplicitStop(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))
	require.NoError(t, coord.SetTyping(ctx, 10, 1, false))

	time.Sleep(3 * time.Second)

	events := caster.snapshot()
	require.Len(t, events, 2)
	assert.True(t, events[0].IsTyping)
	assert.False(t, events[1].IsTyping)
}

// TestTypingRenewal 持续上报重置过期计时
func TestTypingRenewal(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))

	// 两次 typing=true,最终一次自动停止
	time.Sleep(3 * time.Second)

	events := caster.snapshot()
	stops := 0
	for _, e := range events {
		if !e.IsTyping {
			stops++
		}
	}
	assert.Equal(t, 1, stops, "续报后只应有一次自动停止")
}

// TestTypingIndependentSenders 不同发送者的输入状态互不干扰
func TestTypingIndependentSenders(t *testing.T) {
	coord, caster := setupCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetTyping(ctx, 10, 1, true))
	require.NoError(t, coord.SetTyping(ctx, 10, 2, true))
	require.NoError(t, coord.SetTyping(ctx, 10, 1, false))

	events := caster.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[2].SenderID)
	assert.False(t, events[2].IsTyping)
}
