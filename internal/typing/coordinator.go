package typing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/task"
	"sudooom.social.dm/pkg/proto"
)

// ConversationGuard 会话成员校验接口
type ConversationGuard interface {
	Conversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error)
}

// ConversationCaster 会话范围事件下发接口
type ConversationCaster interface {
	SendEventToConversation(conversationID, excludeUserID int64, event string, payload any) error
}

type typingKey struct {
	conversationID int64
	senderID       int64
}

// Coordinator 输入状态协调器
// typing=true 后如果客户端既不续报也不显式停止，到期自动广播
// typing=false，前端不会出现永远`对方正在输入`的假状态
type Coordinator struct {
	mu        sync.Mutex
	gens      map[typingKey]uint64
	guard     ConversationGuard
	caster    ConversationCaster
	scheduler *task.Scheduler
	expire    time.Duration
	logger    *slog.Logger
}

// NewCoordinator 创建输入状态协调器
func NewCoordinator(guard ConversationGuard, caster ConversationCaster, scheduler *task.Scheduler, expire time.Duration) *Coordinator {
	return &Coordinator{
		gens:      make(map[typingKey]uint64),
		guard:     guard,
		caster:    caster,
		scheduler: scheduler,
		expire:    expire,
		logger:    slog.Default(),
	}
}

func expireTaskID(key typingKey) string {
	return fmt.Sprintf("typing:%d:%d", key.conversationID, key.senderID)
}

// SetTyping 上报输入状态
// 每次 typing=true 都重置过期计时；typing=false 立即广播并取消计时
func (c *Coordinator) SetTyping(ctx context.Context, conversationID, senderID int64, isTyping bool) error {
	// 非成员不能在会话里冒泡输入状态
	if _, err := c.guard.Conversation(ctx, conversationID, senderID); err != nil {
		return err
	}

	key := typingKey{conversationID: conversationID, senderID: senderID}

	c.mu.Lock()
	c.gens[key]++
	myGen := c.gens[key]
	if !isTyping {
		delete(c.gens, key)
	}
	c.mu.Unlock()

	if !isTyping {
		c.scheduler.RemoveTask(expireTaskID(key))
		c.broadcast(conversationID, senderID, false)
		return nil
	}

	c.broadcast(conversationID, senderID, true)

	delay := int(c.expire / time.Second)
	if delay < 1 {
		delay = 1
	}

	expireTask := task.NewTask(expireTaskID(key), fmt.Sprintf("%d", senderID), delay, func(taskCtx context.Context, target string) error {
		c.expireTyping(key, myGen)
		return nil
	})

	if err := c.scheduler.AddTask(expireTask); err != nil {
		c.logger.Warn("Failed to schedule typing expiry",
			"conversationId", conversationID,
			"senderId", senderID,
			"error", err)
	}
	return nil
}

// expireTyping 到期自动停止
func (c *Coordinator) expireTyping(key typingKey, gen uint64) {
	c.mu.Lock()
	current, ok := c.gens[key]
	if !ok || current != gen {
		// 期间有新的上报或已显式停止，本次到期作废
		c.mu.Unlock()
		return
	}
	delete(c.gens, key)
	c.mu.Unlock()

	c.broadcast(key.conversationID, key.senderID, false)
	c.logger.Debug("Typing state expired",
		"conversationId", key.conversationID,
		"senderId", key.senderID)
}

// broadcast 输入状态只发给会话里的其他成员，输入者自己的设备不回显
func (c *Coordinator) broadcast(conversationID, senderID int64, isTyping bool) {
	_ = c.caster.SendEventToConversation(conversationID, senderID, proto.EventTyping, &proto.TypingEvent{
		ConversationID: conversationID,
		SenderID:       senderID,
		IsTyping:       isTyping,
	})
}
