package handler

import (
	"context"
	"encoding/json"
	"time"

	"sudooom.social.dm/internal/connection"
	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/service"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
)

// handleSendMessage 处理发送消息请求
func (h *Handler) handleSendMessage(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.SendMessageReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	// 发送者身份始终取连接认证身份，不信任载荷
	result, err := h.messaging.Send(ctx, service.SendInput{
		SenderID:       conn.UserID(),
		ConversationID: payload.ConversationID,
		ReceiverID:     payload.ReceiverID,
		Text:           payload.Text,
	})
	if err != nil {
		h.logger.Warn("Failed to send message",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"error", err)
		h.sendError(conn, req.ReqID, err)
		return
	}

	h.sendResponse(conn, req.ReqID, &proto.SendMessageResp{
		Message:      result.Message.Wire(),
		Conversation: result.Conversation.Wire(),
		Created:      result.Created,
	})
}

// handleJoinConversation 加入会话频道（接收 typing 等会话范围事件）
func (h *Handler) handleJoinConversation(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.ChannelReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.ConversationID == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	// 只有会话成员可以加入频道
	if _, err := h.messaging.Conversation(ctx, payload.ConversationID, conn.UserID()); err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}

	conn.Join(payload.ConversationID)
	h.sendResponse(conn, req.ReqID, nil)
}

// handleLeaveConversation 离开会话频道
func (h *Handler) handleLeaveConversation(conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.ChannelReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.ConversationID == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	conn.Leave(payload.ConversationID)
	h.sendResponse(conn, req.ReqID, nil)
}

// handleMessageDelivered 处理送达回执
func (h *Handler) handleMessageDelivered(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	ids, ok := h.parseReceipt(conn, req)
	if !ok {
		return
	}

	results, err := h.receipts.MarkDelivered(ctx, conn.UserID(), ids)
	if err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}
	h.sendResponse(conn, req.ReqID, receiptCount(results))
}

// handleMarkMessageRead 处理已读回执（已读蕴含送达）
func (h *Handler) handleMarkMessageRead(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	ids, ok := h.parseReceipt(conn, req)
	if !ok {
		return
	}

	results, err := h.receipts.MarkRead(ctx, conn.UserID(), ids)
	if err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}
	h.sendResponse(conn, req.ReqID, receiptCount(results))
}

func (h *Handler) parseReceipt(conn *connection.Connection, req *proto.ClientRequest) ([]int64, bool) {
	var payload proto.ReceiptReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || len(payload.MessageIDs) == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return nil, false
	}
	return payload.MessageIDs, true
}

func receiptCount(results []service.ReceiptResult) map[string]int {
	count := 0
	for _, r := range results {
		count += len(r.MessageIDs)
	}
	return map[string]int{"updated": count}
}

// handleTyping 处理输入状态
func (h *Handler) handleTyping(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.TypingReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.ConversationID == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	if err := h.typing.SetTyping(ctx, payload.ConversationID, conn.UserID(), payload.IsTyping); err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}
	h.sendResponse(conn, req.ReqID, nil)
}

// handleAcceptConversation 接受会话请求
func (h *Handler) handleAcceptConversation(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.TransitionReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.ConversationID == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	conv, msgs, err := h.messaging.Accept(ctx, payload.ConversationID, conn.UserID())
	if err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}

	h.sendResponse(conn, req.ReqID, &proto.AcceptResp{
		Conversation: conv.Wire(),
		Messages:     model.WireMessages(msgs),
	})
}

// handleRejectConversation 拒绝会话请求
func (h *Handler) handleRejectConversation(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.TransitionReq
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.ConversationID == 0 {
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
		return
	}

	conv, err := h.messaging.Reject(ctx, payload.ConversationID, conn.UserID())
	if err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}

	h.sendResponse(conn, req.ReqID, conv.Wire())
}

// handleGetUnreadMessages 查询未读消息
func (h *Handler) handleGetUnreadMessages(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var payload proto.UnreadReq
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
			return
		}
	}

	msgs, err := h.messaging.UnreadMessages(ctx, conn.UserID(), payload.ConversationIDs)
	if err != nil {
		h.sendError(conn, req.ReqID, err)
		return
	}

	h.sendResponse(conn, req.ReqID, &proto.UnreadMessagesEvent{
		Messages: model.WireMessages(msgs),
	})
}

// handleHeartbeat 处理心跳，顺带刷新 Redis 位置 TTL
func (h *Handler) handleHeartbeat(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	if err := h.store.RefreshLocation(ctx, conn.UserID()); err != nil {
		h.logger.Warn("Failed to refresh user location", "user_id", conn.UserID(), "error", err)
	}

	h.sendResponse(conn, req.ReqID, &proto.HeartbeatResp{
		ServerTime: time.Now().UnixMilli(),
	})
}
