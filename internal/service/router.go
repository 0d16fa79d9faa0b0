package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"sudooom.social.dm/internal/redisstore"
)

// EventRouter 事件路由接口
// 业务服务通过它下发事件，不感知节点拓扑
type EventRouter interface {
	SendEventToUser(ctx context.Context, userID int64, event string, payload any) error
	SendEventToUsers(ctx context.Context, userIDs []int64, event string, payload any) error
	SendEventToConversation(conversationID, excludeUserID int64, event string, payload any) error
	BroadcastEvent(event string, payload any) error
}

// Router 路由服务（编排层）
// 查询用户连接位置，把事件分发到对应节点
type Router struct {
	store      *redisstore.Client
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewRouter 创建路由服务
func NewRouter(store *redisstore.Client, dispatcher *Dispatcher) *Router {
	return &Router{
		store:      store,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
}

// SendEventToUser 发送事件到用户的所有在线连接
// 用户离线时静默丢弃，消息本体依赖数据库补偿
func (r *Router) SendEventToUser(ctx context.Context, userID int64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	locations, err := r.store.GetLocations(ctx, userID)
	if err != nil {
		return err
	}

	if len(locations) == 0 {
		r.logger.Debug("User is offline, event dropped", "userId", userID, "event", event)
		return nil
	}

	// 同一节点只发一次，节点按 userId 投递到该用户全部连接
	nodes := make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		if _, seen := nodes[loc.NodeID]; seen {
			continue
		}
		nodes[loc.NodeID] = struct{}{}
		r.dispatcher.DispatchToUser(loc.NodeID, userID, event, data)
	}

	return nil
}

// SendEventToUsers 批量发送事件
func (r *Router) SendEventToUsers(ctx context.Context, userIDs []int64, event string, payload any) error {
	for _, userID := range userIDs {
		if err := r.SendEventToUser(ctx, userID, event, payload); err != nil {
			r.logger.Warn("Failed to route event to user",
				"userId", userID,
				"event", event,
				"error", err)
		}
	}
	return nil
}

// SendEventToConversation 发送会话范围事件
// 只投递给已加入该会话频道的连接（typing 用）；excludeUserID 的连接跳过
func (r *Router) SendEventToConversation(conversationID, excludeUserID int64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.dispatcher.DispatchToConversation(conversationID, excludeUserID, event, data)
	return nil
}

// BroadcastEvent 广播事件到所有在线连接（上下线通知）
func (r *Router) BroadcastEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.dispatcher.DispatchBroadcast(event, data)
	return nil
}
