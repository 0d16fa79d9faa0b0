package model

import (
	"time"

	"sudooom.social.dm/pkg/proto"
)

// Message 消息实体
// ReceiverID 在创建时固化为会话的另一个成员，之后不再重新推导
type Message struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID int64     `json:"conversationId" db:"conversation_id"`
	SenderID       int64     `json:"senderId" db:"sender_id"`
	ReceiverID     int64     `json:"receiverId" db:"receiver_id"`
	Text           string    `json:"text" db:"text"`
	Delivered      bool      `json:"delivered" db:"delivered"`
	Read           bool      `json:"read" db:"is_read"`
	DeletedFor     []int64   `json:"-" db:"deleted_for"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// HiddenFor 判断消息是否对该用户隐藏（delete for me）
func (m *Message) HiddenFor(userID int64) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Wire 转换为下发形态
func (m *Message) Wire() *proto.MessagePayload {
	return &proto.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Text:           m.Text,
		Delivered:      m.Delivered,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
}

// WireMessages 批量转换
func WireMessages(msgs []*Message) []*proto.MessagePayload {
	out := make([]*proto.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	return out
}
