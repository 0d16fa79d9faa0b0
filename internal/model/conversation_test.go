package model

import (
	"testing"
	"time"
)

func TestSortMembers(t *testing.T) {
	low, high := SortMembers(42, 7)
	if low != 7 || high != 42 {
		t.Errorf("Expected (7, 42), got (%d, %d)", low, high)
	}

	low, high = SortMembers(7, 42)
	if low != 7 || high != 42 {
		t.Errorf("Expected (7, 42), got (%d, %d)", low, high)
	}
}

func TestConversationMembership(t *testing.T) {
	conv := &Conversation{MemberLow: 7, MemberHigh: 42}

	if !conv.HasMember(7) || !conv.HasMember(42) {
		t.Error("Expected both members to be recognized")
	}
	if conv.HasMember(99) {
		t.Error("Expected 99 to not be a member")
	}

	if got := conv.OtherMember(7); got != 42 {
		t.Errorf("Expected other member 42, got %d", got)
	}
	if got := conv.OtherMember(42); got != 7 {
		t.Errorf("Expected other member 7, got %d", got)
	}
	// 非成员返回 0
	if got := conv.OtherMember(99); got != 0 {
		t.Errorf("Expected 0 for non-member, got %d", got)
	}
}

func TestConversationWire(t *testing.T) {
	lastID := int64(100)
	lastAt := time.Now()
	conv := &Conversation{
		ID:            1,
		MemberLow:     7,
		MemberHigh:    42,
		Status:        StatusAccepted,
		InitiatedBy:   7,
		LastMessageID: &lastID,
		LastMessageAt: &lastAt,
	}

	p := conv.Wire()
	if p.Status != "accepted" {
		t.Errorf("Expected status accepted, got %s", p.Status)
	}
	if len(p.Members) != 2 || p.Members[0] != 7 || p.Members[1] != 42 {
		t.Errorf("Unexpected members: %v", p.Members)
	}
	if p.LastMessageID != 100 {
		t.Errorf("Expected lastMessageId 100, got %d", p.LastMessageID)
	}
	if p.LastMessageAt != lastAt.UnixMilli() {
		t.Errorf("Expected lastMessageAt %d, got %d", lastAt.UnixMilli(), p.LastMessageAt)
	}

	// 没有最后消息时字段为零值
	empty := (&Conversation{ID: 2, MemberLow: 1, MemberHigh: 2, Status: StatusPending}).Wire()
	if empty.LastMessageID != 0 || empty.LastMessageAt != 0 {
		t.Error("Expected zero last message fields for fresh conversation")
	}
}

func TestMessageHiddenFor(t *testing.T) {
	msg := &Message{ID: 1, DeletedFor: []int64{7}}

	if !msg.HiddenFor(7) {
		t.Error("Expected message to be hidden for 7")
	}
	if msg.HiddenFor(42) {
		t.Error("Expected message to be visible for 42")
	}
}
