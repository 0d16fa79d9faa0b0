package service

import (
	"context"
	"log/slog"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/repository"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
)

// ReceiptService 回执服务（送达/已读）
type ReceiptService struct {
	msgRepo *repository.MessageRepository
	router  EventRouter
	logger  *slog.Logger
}

// NewReceiptService 创建回执服务
func NewReceiptService(msgRepo *repository.MessageRepository, router EventRouter) *ReceiptService {
	return &ReceiptService{
		msgRepo: msgRepo,
		router:  router,
		logger:  slog.Default(),
	}
}

// ReceiptResult 按会话聚合的回执结果
type ReceiptResult struct {
	ConversationID int64
	SenderID       int64 // 原消息发送者（回执通知对象）
	MessageIDs     []int64
}

// MarkDelivered 接收方确认送达
// 只影响属于该接收方且尚未送达的消息，重复确认幂等
func (s *ReceiptService) MarkDelivered(ctx context.Context, userID int64, messageIDs []int64) ([]ReceiptResult, error) {
	if len(messageIDs) == 0 {
		return nil, errors.ErrInvalidParams
	}

	changed, err := s.msgRepo.MarkDelivered(ctx, userID, messageIDs)
	if err != nil {
		return nil, err
	}

	results := groupByConversation(changed)
	for _, res := range results {
		// 通知发送者消息已送达
		_ = s.router.SendEventToUser(ctx, res.SenderID, proto.EventMessageDelivered, &proto.MessageDeliveredEvent{
			ConversationID: res.ConversationID,
			MessageIDs:     res.MessageIDs,
			ReceiverID:     userID,
		})
	}

	return results, nil
}

// MarkRead 接收方确认已读
// 已读蕴含送达；同时同步给读者自己的其他设备
func (s *ReceiptService) MarkRead(ctx context.Context, userID int64, messageIDs []int64) ([]ReceiptResult, error) {
	if len(messageIDs) == 0 {
		return nil, errors.ErrInvalidParams
	}

	changed, err := s.msgRepo.MarkRead(ctx, userID, messageIDs)
	if err != nil {
		return nil, err
	}

	results := groupByConversation(changed)
	for _, res := range results {
		// 通知发送者消息已读
		_ = s.router.SendEventToUser(ctx, res.SenderID, proto.EventMessageRead, &proto.MessageReadEvent{
			ConversationID: res.ConversationID,
			MessageIDs:     res.MessageIDs,
			ReaderID:       userID,
		})
		// 读者其他设备同步清除未读
		_ = s.router.SendEventToUser(ctx, userID, proto.EventMessageReadConfirmed, &proto.MessageReadConfirmedEvent{
			ConversationID: res.ConversationID,
			MessageIDs:     res.MessageIDs,
		})
	}

	return results, nil
}

// groupByConversation 把变更消息按会话聚合
// 同一会话的消息发送者必然相同（单聊）
func groupByConversation(msgs []*model.Message) []ReceiptResult {
	if len(msgs) == 0 {
		return nil
	}

	index := make(map[int64]int)
	var results []ReceiptResult
	for _, m := range msgs {
		i, ok := index[m.ConversationID]
		if !ok {
			i = len(results)
			index[m.ConversationID] = i
			results = append(results, ReceiptResult{
				ConversationID: m.ConversationID,
				SenderID:       m.SenderID,
			})
		}
		results[i].MessageIDs = append(results[i].MessageIDs, m.ID)
	}
	return results
}
