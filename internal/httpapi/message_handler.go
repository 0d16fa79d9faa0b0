package httpapi

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/service"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/response"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	messaging *service.MessagingService
	receipts  *service.ReceiptService
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messaging *service.MessagingService, receipts *service.ReceiptService) *MessageHandler {
	return &MessageHandler{messaging: messaging, receipts: receipts}
}

type sendMessageRequest struct {
	ConversationID int64  `json:"conversationId"`
	ReceiverID     int64  `json:"receiverId"`
	Text           string `json:"text"`
}

// Send 发送消息
// POST /api/v1/messages
func (h *MessageHandler) Send(c *gin.Context) {
	userID := GetUserID(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, errors.CodeInvalidParams, err.Error())
		return
	}

	result, err := h.messaging.Send(c.Request.Context(), service.SendInput{
		SenderID:       userID,
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		Text:           req.Text,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":      result.Message.Wire(),
		"conversation": result.Conversation.Wire(),
		"created":      result.Created,
	})
}

type receiptRequest struct {
	MessageIDs []int64 `json:"messageIds" binding:"required"`
}

// MarkDelivered 标记消息已送达
// POST /api/v1/messages/delivered
func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	userID := GetUserID(c)

	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, errors.CodeInvalidParams, err.Error())
		return
	}

	results, err := h.receipts.MarkDelivered(c.Request.Context(), userID, req.MessageIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"updated": countReceipts(results)})
}

// MarkRead 标记消息已读（已读蕴含送达）
// POST /api/v1/messages/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID := GetUserID(c)

	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, errors.CodeInvalidParams, err.Error())
		return
	}

	results, err := h.receipts.MarkRead(c.Request.Context(), userID, req.MessageIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"updated": countReceipts(results)})
}

// Unread 未读消息查询
// GET /api/v1/messages/unread?conversation_ids=1,2,3
func (h *MessageHandler) Unread(c *gin.Context) {
	userID := GetUserID(c)

	var convIDs []int64
	if raw := c.Query("conversation_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				response.Error(c, errors.ErrInvalidParams)
				return
			}
			convIDs = append(convIDs, id)
		}
	}

	msgs, err := h.messaging.UnreadMessages(c.Request.Context(), userID, convIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"list": model.WireMessages(msgs)})
}

// DeleteForMe 仅对自己删除消息
// DELETE /api/v1/messages/:id
func (h *MessageHandler) DeleteForMe(c *gin.Context) {
	userID := GetUserID(c)
	msgID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.messaging.DeleteForMe(c.Request.Context(), userID, msgID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

type deleteForEveryoneRequest struct {
	MessageIDs []int64 `json:"messageIds" binding:"required"`
}

// DeleteForEveryone 对所有人删除消息（仅发送者，全部成功或全部失败）
// POST /api/v1/messages/delete
func (h *MessageHandler) DeleteForEveryone(c *gin.Context) {
	userID := GetUserID(c)

	var req deleteForEveryoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, errors.CodeInvalidParams, err.Error())
		return
	}

	if err := h.messaging.DeleteForEveryone(c.Request.Context(), userID, req.MessageIDs); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

func countReceipts(results []service.ReceiptResult) int {
	count := 0
	for _, r := range results {
		count += len(r.MessageIDs)
	}
	return count
}
