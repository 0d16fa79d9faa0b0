package service

import (
	"encoding/json"
	"log/slog"

	"sudooom.social.dm/internal/nats"
	"sudooom.social.dm/pkg/proto"
)

// Dispatcher 下行消息分发服务
// 负责把事件封装成 DownstreamMessage 并投递到目标网关节点
type Dispatcher struct {
	publisher *nats.DownstreamPublisher
	logger    *slog.Logger
}

// NewDispatcher 创建分发服务
func NewDispatcher(publisher *nats.DownstreamPublisher) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		logger:    slog.Default(),
	}
}

// DispatchToUser 分发事件到指定节点上的某个用户（该用户在该节点的所有连接）
func (d *Dispatcher) DispatchToUser(nodeID string, userID int64, event string, payload json.RawMessage) {
	msg := &proto.DownstreamMessage{
		UserID:  userID,
		Event:   event,
		Payload: payload,
	}
	if err := d.publisher.PublishToNode(nodeID, msg); err != nil {
		d.logger.Warn("Failed to dispatch event to user",
			"userId", userID,
			"nodeId", nodeID,
			"event", event,
			"error", err)
	}
}

// DispatchToConn 分发事件到指定节点上的某个连接
func (d *Dispatcher) DispatchToConn(nodeID string, userID, connID int64, event string, payload json.RawMessage) {
	msg := &proto.DownstreamMessage{
		UserID:  userID,
		ConnID:  connID,
		Event:   event,
		Payload: payload,
	}
	if err := d.publisher.PublishToNode(nodeID, msg); err != nil {
		d.logger.Warn("Failed to dispatch event to conn",
			"userId", userID,
			"connId", connID,
			"nodeId", nodeID,
			"event", event,
			"error", err)
	}
}

// DispatchToConversation 广播会话范围事件
// 各节点只投递给已加入该会话频道的连接；excludeUserID 的连接不投递
func (d *Dispatcher) DispatchToConversation(conversationID, excludeUserID int64, event string, payload json.RawMessage) {
	msg := &proto.DownstreamMessage{
		Scope:          proto.ScopeConversation,
		ConversationID: conversationID,
		ExcludeUserID:  excludeUserID,
		Event:          event,
		Payload:        payload,
	}
	if err := d.publisher.Broadcast(msg); err != nil {
		d.logger.Warn("Failed to dispatch conversation event",
			"conversationId", conversationID,
			"event", event,
			"error", err)
	}
}

// DispatchBroadcast 全量广播事件（上下线通知）
func (d *Dispatcher) DispatchBroadcast(event string, payload json.RawMessage) {
	msg := &proto.DownstreamMessage{
		Event:   event,
		Payload: payload,
	}
	if err := d.publisher.Broadcast(msg); err != nil {
		d.logger.Warn("Failed to dispatch broadcast event",
			"event", event,
			"error", err)
	}
}
