package model

import (
	"time"

	"sudooom.social.dm/pkg/proto"
)

// ConversationStatus 会话状态
type ConversationStatus string

const (
	StatusPending  ConversationStatus = "pending"  // 待接受
	StatusAccepted ConversationStatus = "accepted" // 已接受（终态）
	StatusRejected ConversationStatus = "rejected" // 已拒绝（终态）
)

// Conversation 两人会话实体
// 成员对以排序后的 (member_low, member_high) 存储，同一对用户至多一条记录
type Conversation struct {
	ID            int64              `json:"id" db:"id"`
	MemberLow     int64              `json:"-" db:"member_low"`
	MemberHigh    int64              `json:"-" db:"member_high"`
	Status        ConversationStatus `json:"status" db:"status"`
	InitiatedBy   int64              `json:"initiatedBy" db:"initiated_by"`
	LastMessageID *int64             `json:"lastMessageId" db:"last_message_id"`
	LastMessageAt *time.Time         `json:"lastMessageAt" db:"last_message_at"`
	CreatedAt     time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time          `json:"updatedAt" db:"updated_at"`
}

// SortMembers 规范化成员对（低位在前）
func SortMembers(a, b int64) (low, high int64) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Members 返回两个成员
func (c *Conversation) Members() [2]int64 {
	return [2]int64{c.MemberLow, c.MemberHigh}
}

// HasMember 判断用户是否为会话成员
func (c *Conversation) HasMember(userID int64) bool {
	return userID == c.MemberLow || userID == c.MemberHigh
}

// OtherMember 返回另一个成员；userID 不是成员时返回 0
func (c *Conversation) OtherMember(userID int64) int64 {
	switch userID {
	case c.MemberLow:
		return c.MemberHigh
	case c.MemberHigh:
		return c.MemberLow
	default:
		return 0
	}
}

// Wire 转换为下发形态
func (c *Conversation) Wire() *proto.ConversationPayload {
	p := &proto.ConversationPayload{
		ID:          c.ID,
		Members:     []int64{c.MemberLow, c.MemberHigh},
		Status:      string(c.Status),
		InitiatedBy: c.InitiatedBy,
	}
	if c.LastMessageID != nil {
		p.LastMessageID = *c.LastMessageID
	}
	if c.LastMessageAt != nil {
		p.LastMessageAt = c.LastMessageAt.UnixMilli()
	}
	return p
}
