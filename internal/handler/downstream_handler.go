package handler

import (
	"context"
	"encoding/json"
	"time"

	"sudooom.social.dm/internal/metrics"
	"sudooom.social.dm/pkg/proto"
)

// HandleDownstream 处理 NATS 下行消息，投递到本节点的目标连接
// 路由优先级：指定连接 > 会话频道 > 指定用户 > 全节点广播
func (h *Handler) HandleDownstream(ctx context.Context, msg *proto.DownstreamMessage) {
	metrics.DownstreamMessages.Inc()

	switch {
	case msg.ConnID > 0:
		conn := h.connMgr.Get(msg.ConnID)
		if conn == nil {
			h.logger.Debug("Downstream target connection not found", "conn_id", msg.ConnID)
			return
		}
		h.SendEvent(conn, msg.Event, msg.Payload)

	case msg.Scope == proto.ScopeConversation:
		frame, err := h.buildEventFrame(msg.Event, msg.Payload)
		if err != nil {
			return
		}
		h.connMgr.BroadcastToConversation(msg.ConversationID, msg.ExcludeUserID, frame)

	case msg.UserID > 0:
		conns := h.connMgr.GetByUserID(msg.UserID)
		if len(conns) == 0 {
			return
		}
		for _, conn := range conns {
			h.SendEvent(conn, msg.Event, msg.Payload)
		}

	default:
		frame, err := h.buildEventFrame(msg.Event, msg.Payload)
		if err != nil {
			return
		}
		h.connMgr.Broadcast(frame)
	}
}

// buildEventFrame 预编码事件帧，广播时所有连接共用同一份字节
func (h *Handler) buildEventFrame(event string, payload json.RawMessage) ([]byte, error) {
	evt := proto.ServerEvent{
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	data, err := json.Marshal(&evt)
	if err != nil {
		h.logger.Error("Failed to marshal downstream event", "event", event, "error", err)
		return nil, err
	}
	return BuildFrame(FrameTypeEvent, data), nil
}
