package proto

import "encoding/json"

// ============== 帧内载荷 (Client <-> Gateway) ==============

// 客户端操作名
const (
	OpSendMessage        = "sendMessage"
	OpJoinConversation   = "joinConversation"
	OpLeaveConversation  = "leaveConversation"
	OpMessageDelivered   = "messageDelivered"
	OpMarkMessageRead    = "markMessageRead"
	OpTyping             = "typing"
	OpAcceptConversation = "acceptConversation"
	OpRejectConversation = "rejectConversation"
	OpGetUnreadMessages  = "getUnreadMessages"
	OpHeartbeat          = "heartbeat"
)

// 下行事件名
const (
	EventNewMessage           = "newMessage"
	EventNewRequest           = "newRequest"
	EventRequestAccepted      = "requestAccepted"
	EventRequestRejected      = "requestRejected"
	EventMessageDelivered     = "messageDelivered"
	EventMessageRead          = "messageRead"
	EventMessageReadConfirmed = "messageReadConfirmed"
	EventMessageDeleted       = "messageDeleted"
	EventTyping               = "typing"
	EventUserOnline           = "userOnline"
	EventUserOffline          = "userOffline"
	EventOnlineUsersSnapshot  = "onlineUsersSnapshot"
	EventUnreadMessages       = "unreadMessages"
)

// ClientRequest 客户端请求封装
type ClientRequest struct {
	ReqID   string          `json:"reqId"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientResponse 请求响应封装
type ClientResponse struct {
	ReqID     string          `json:"reqId"`
	Code      int             `json:"code"`
	Msg       string          `json:"msg,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent 服务端主动推送封装
type ServerEvent struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ============== 请求载荷 ==============

// AuthRequest 认证请求（连接首帧）
type AuthRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

// SendMessageReq 发送消息请求
// ConversationID 和 ReceiverID 二选一；SenderID 不在载荷中，始终取连接认证身份
type SendMessageReq struct {
	ConversationID int64  `json:"conversationId,omitempty"`
	ReceiverID     int64  `json:"receiverId,omitempty"`
	Text           string `json:"text"`
}

// ChannelReq 加入/离开会话频道请求
type ChannelReq struct {
	ConversationID int64 `json:"conversationId"`
}

// ReceiptReq 回执请求（送达/已读共用）
type ReceiptReq struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
}

// TypingReq 输入状态请求
type TypingReq struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

// TransitionReq 接受/拒绝会话请求
type TransitionReq struct {
	ConversationID int64 `json:"conversationId"`
}

// UnreadReq 未读消息查询请求
type UnreadReq struct {
	ConversationIDs []int64 `json:"conversationIds"`
}

// SendMessageResp 发送消息响应
type SendMessageResp struct {
	Message      *MessagePayload      `json:"message"`
	Conversation *ConversationPayload `json:"conversation"`
	Created      bool                 `json:"created"` // 本次发送是否创建了新会话
}

// AcceptResp 接受会话响应，附带会话内现有消息
type AcceptResp struct {
	Conversation *ConversationPayload `json:"conversation"`
	Messages     []*MessagePayload    `json:"messages,omitempty"`
}

// AuthAck 认证成功响应
type AuthAck struct {
	UserID     int64 `json:"userId"`
	ConnID     int64 `json:"connId"`
	ServerTime int64 `json:"serverTime"` // 毫秒
}

// ============== 实体载荷 ==============

// MessagePayload 消息的下发形态
type MessagePayload struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversationId"`
	SenderID       int64  `json:"senderId"`
	ReceiverID     int64  `json:"receiverId"`
	Text           string `json:"text"`
	Delivered      bool   `json:"delivered"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"createdAt"` // 毫秒
}

// ConversationPayload 会话的下发形态
type ConversationPayload struct {
	ID            int64   `json:"id"`
	Members       []int64 `json:"members"`
	Status        string  `json:"status"`
	InitiatedBy   int64   `json:"initiatedBy"`
	LastMessageID int64   `json:"lastMessageId,omitempty"`
	LastMessageAt int64   `json:"lastMessageAt,omitempty"` // 毫秒
}

// ============== 下行事件载荷 ==============

// NewMessageEvent 新消息事件
type NewMessageEvent struct {
	Message        *MessagePayload `json:"message"`
	ConversationID int64           `json:"conversationId"`
	IsNew          bool            `json:"isNew"`
}

// NewRequestEvent 新会话请求事件
type NewRequestEvent struct {
	Conversation *ConversationPayload `json:"conversation"`
}

// RequestAcceptedEvent 会话被接受事件
type RequestAcceptedEvent struct {
	Conversation *ConversationPayload `json:"conversation"`
	Messages     []*MessagePayload    `json:"messages,omitempty"`
}

// RequestRejectedEvent 会话被拒绝事件
type RequestRejectedEvent struct {
	ConversationID int64 `json:"conversationId"`
}

// MessageDeliveredEvent 消息送达回执事件（发给发送者）
type MessageDeliveredEvent struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
	ReceiverID     int64   `json:"receiverId"`
}

// MessageReadEvent 消息已读回执事件（发给发送者）
type MessageReadEvent struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
	ReaderID       int64   `json:"readerId"`
}

// MessageReadConfirmedEvent 已读确认事件（同步给读者自己的其他设备）
type MessageReadConfirmedEvent struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
}

// MessageDeletedEvent 消息被删除事件
type MessageDeletedEvent struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
}

// TypingEvent 输入状态事件
type TypingEvent struct {
	ConversationID int64 `json:"conversationId"`
	SenderID       int64 `json:"senderId"`
	IsTyping       bool  `json:"isTyping"`
}

// UserOnlineEvent 用户上线事件
type UserOnlineEvent struct {
	UserID int64 `json:"userId"`
}

// UserOfflineEvent 用户下线事件
type UserOfflineEvent struct {
	UserID   int64 `json:"userId"`
	LastSeen int64 `json:"lastSeen"` // 毫秒
}

// OnlineUsersSnapshotEvent 在线用户快照（新连接建立后下发）
type OnlineUsersSnapshotEvent struct {
	OnlineUsers []int64 `json:"onlineUsers"`
}

// UnreadMessagesEvent 未读消息查询结果
type UnreadMessagesEvent struct {
	Messages []*MessagePayload `json:"messages"`
}

// HeartbeatResp 心跳响应
type HeartbeatResp struct {
	ServerTime int64 `json:"serverTime"`
}

// ============== 节点间下行消息 (NATS) ==============

// 下行路由范围
const (
	// ScopeConversation 仅投递给已加入该会话频道的连接（用于 typing）
	ScopeConversation = "conversation"
)

// DownstreamMessage 下行消息封装
// UserId > 0 时按用户路由；ConnId > 0 时直达指定连接；两者都为 0 表示广播
type DownstreamMessage struct {
	UserID         int64           `json:"userId,omitempty"`
	ConnID         int64           `json:"connId,omitempty"`
	Scope          string          `json:"scope,omitempty"`
	ConversationID int64           `json:"conversationId,omitempty"`
	ExcludeUserID  int64           `json:"excludeUserId,omitempty"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}
