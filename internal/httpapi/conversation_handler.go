package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/service"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
	"sudooom.social.dm/pkg/response"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	messaging *service.MessagingService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(messaging *service.MessagingService) *ConversationHandler {
	return &ConversationHandler{messaging: messaging}
}

type getOrCreateRequest struct {
	PeerID int64 `json:"peerId" binding:"required"`
}

// GetOrCreate 定位或创建与对方的会话
// POST /api/v1/conversations
func (h *ConversationHandler) GetOrCreate(c *gin.Context) {
	userID := GetUserID(c)

	var req getOrCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, errors.CodeInvalidParams, err.Error())
		return
	}

	conv, created, err := h.messaging.GetOrCreateConversation(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"conversation": conv.Wire(),
		"created":      created,
	})
}

// List 已接受的会话列表
// GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	userID := GetUserID(c)

	convs, err := h.messaging.ListAccepted(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"list": wireConversations(convs)})
}

// ListRequests 待处理的会话请求列表（当前用户为接收方）
// GET /api/v1/conversations/requests
func (h *ConversationHandler) ListRequests(c *gin.Context) {
	userID := GetUserID(c)

	convs, err := h.messaging.ListRequests(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"list": wireConversations(convs)})
}

// Get 会话详情
// GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	userID := GetUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}

	conv, err := h.messaging.Conversation(c.Request.Context(), convID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, conv.Wire())
}

// Accept 接受会话请求
// POST /api/v1/conversations/:id/accept
func (h *ConversationHandler) Accept(c *gin.Context) {
	userID := GetUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}

	conv, msgs, err := h.messaging.Accept(c.Request.Context(), convID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"conversation": conv.Wire(),
		"messages":     model.WireMessages(msgs),
	})
}

// Reject 拒绝会话请求
// POST /api/v1/conversations/:id/reject
func (h *ConversationHandler) Reject(c *gin.Context) {
	userID := GetUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}

	conv, err := h.messaging.Reject(c.Request.Context(), convID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, conv.Wire())
}

// Messages 会话消息列表（时间正序，向前翻页）
// GET /api/v1/conversations/:id/messages?before_id=&limit=
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID := GetUserID(c)
	convID, ok := pathID(c)
	if !ok {
		return
	}

	beforeID, _ := strconv.ParseInt(c.Query("before_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.messaging.Messages(c.Request.Context(), convID, userID, beforeID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"list": model.WireMessages(msgs)})
}

// pathID 解析路径中的 :id 参数
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, errors.ErrInvalidParams)
		return 0, false
	}
	return id, true
}

func wireConversations(convs []*model.Conversation) []*proto.ConversationPayload {
	result := make([]*proto.ConversationPayload, 0, len(convs))
	for _, conv := range convs {
		result = append(result, conv.Wire())
	}
	return result
}
