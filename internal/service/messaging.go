package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.social.dm/internal/metrics"
	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/internal/repository"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
	"sudooom.social.dm/pkg/snowflake"
)

// MaxTextLength 单条消息最大长度
const MaxTextLength = 4096

// MessagingService 会话与消息核心服务
type MessagingService struct {
	db       *pgxpool.Pool
	convRepo *repository.ConversationRepository
	msgRepo  *repository.MessageRepository
	idNode   *snowflake.Node
	router   EventRouter
	logger   *slog.Logger
}

// NewMessagingService 创建消息服务
func NewMessagingService(
	db *pgxpool.Pool,
	convRepo *repository.ConversationRepository,
	msgRepo *repository.MessageRepository,
	idNode *snowflake.Node,
	router EventRouter,
) *MessagingService {
	return &MessagingService{
		db:       db,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		idNode:   idNode,
		router:   router,
		logger:   slog.Default(),
	}
}

// SendInput 发送消息入参
// SenderID 始终取连接认证身份，不信任客户端载荷
type SendInput struct {
	SenderID       int64
	ConversationID int64
	ReceiverID     int64
	Text           string
}

// SendResult 发送消息结果
type SendResult struct {
	Message      *model.Message
	Conversation *model.Conversation
	Created      bool // 本次发送是否创建了新会话
}

// Send 发送消息
// 会话定位/创建与消息落库在同一事务内完成，部分失败整体回滚
func (s *MessagingService) Send(ctx context.Context, input SendInput) (*SendResult, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.ErrTextRequired
	}
	if len(text) > MaxTextLength {
		return nil, errors.ErrInvalidParams
	}
	if input.ConversationID == 0 && input.ReceiverID == 0 {
		return nil, errors.ErrReceiverRequired
	}
	if input.ReceiverID != 0 && input.ReceiverID == input.SenderID {
		return nil, errors.ErrSelfConversation
	}

	var result SendResult

	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		convRepo := s.convRepo.WithTx(tx)
		msgRepo := s.msgRepo.WithTx(tx)

		conv, created, err := s.resolveConversation(ctx, convRepo, input)
		if err != nil {
			return err
		}

		// 被拒绝的会话拒绝后续发送；pending 允许发起方继续补发
		if conv.Status == model.StatusRejected {
			return errors.ErrConversationClosed
		}

		msg := &model.Message{
			ID:             s.idNode.Generate().Int64(),
			ConversationID: conv.ID,
			SenderID:       input.SenderID,
			ReceiverID:     conv.OtherMember(input.SenderID),
			Text:           text,
			CreatedAt:      time.Now(),
		}

		if err := msgRepo.Create(ctx, msg); err != nil {
			return err
		}

		if err := convRepo.RecordLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
			return err
		}

		lastID := msg.ID
		lastAt := msg.CreatedAt
		conv.LastMessageID = &lastID
		conv.LastMessageAt = &lastAt

		result = SendResult{Message: msg, Conversation: conv, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.emitSendEvents(ctx, &result)
	return &result, nil
}

// resolveConversation 定位或创建会话（事务内）
func (s *MessagingService) resolveConversation(ctx context.Context, convRepo *repository.ConversationRepository, input SendInput) (*model.Conversation, bool, error) {
	if input.ConversationID != 0 {
		conv, err := convRepo.FindByID(ctx, input.ConversationID)
		if err != nil {
			return nil, false, err
		}
		if conv == nil {
			return nil, false, errors.ErrConversationNotFound
		}
		if !conv.HasMember(input.SenderID) {
			return nil, false, errors.ErrNotMember
		}
		return conv, false, nil
	}

	low, high := model.SortMembers(input.SenderID, input.ReceiverID)
	conv := &model.Conversation{
		ID:          s.idNode.Generate().Int64(),
		MemberLow:   low,
		MemberHigh:  high,
		Status:      model.StatusPending,
		InitiatedBy: input.SenderID,
		CreatedAt:   time.Now(),
	}

	inserted, err := convRepo.CreatePending(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return conv, true, nil
	}

	// 唯一约束兜底：会话已存在（可能是并发创建或历史会话）
	existing, err := convRepo.FindByMembers(ctx, input.SenderID, input.ReceiverID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.ErrDBError
	}
	return existing, false, nil
}

// emitSendEvents 发送成功后的事件下发
func (s *MessagingService) emitSendEvents(ctx context.Context, result *SendResult) {
	msg := result.Message

	// 新会话先通知接收方有请求到达
	if result.Created {
		_ = s.router.SendEventToUser(ctx, msg.ReceiverID, proto.EventNewRequest, &proto.NewRequestEvent{
			Conversation: result.Conversation.Wire(),
		})
	}

	event := &proto.NewMessageEvent{
		Message:        msg.Wire(),
		ConversationID: msg.ConversationID,
		IsNew:          result.Created,
	}

	_ = s.router.SendEventToUser(ctx, msg.ReceiverID, proto.EventNewMessage, event)
	// 同步给发送者的其他设备
	_ = s.router.SendEventToUser(ctx, msg.SenderID, proto.EventNewMessage, event)
}

// GetOrCreateConversation 定位或创建与对方的会话
func (s *MessagingService) GetOrCreateConversation(ctx context.Context, userID, peerID int64) (*model.Conversation, bool, error) {
	if peerID == 0 {
		return nil, false, errors.ErrReceiverRequired
	}
	if peerID == userID {
		return nil, false, errors.ErrSelfConversation
	}

	var (
		conv    *model.Conversation
		created bool
	)
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		conv, created, err = s.resolveConversation(ctx, s.convRepo.WithTx(tx), SendInput{
			SenderID:   userID,
			ReceiverID: peerID,
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		_ = s.router.SendEventToUser(ctx, peerID, proto.EventNewRequest, &proto.NewRequestEvent{
			Conversation: conv.Wire(),
		})
	}
	return conv, created, nil
}

// Accept 接受会话请求
// 只有接收方可以接受，已拒绝的会话也可以由接收方接受以恢复联系；
// 返回会话内现有消息供客户端直接渲染
func (s *MessagingService) Accept(ctx context.Context, conversationID, userID int64) (*model.Conversation, []*model.Message, error) {
	conv, changed, err := s.transition(ctx, conversationID, userID, model.StatusAccepted)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, conversationID, userID, 0, 50)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return conv, msgs, nil
	}

	// 通知发起方请求被接受
	_ = s.router.SendEventToUser(ctx, conv.InitiatedBy, proto.EventRequestAccepted, &proto.RequestAcceptedEvent{
		Conversation: conv.Wire(),
	})
	// 同步给接受方的其他设备
	_ = s.router.SendEventToUser(ctx, userID, proto.EventRequestAccepted, &proto.RequestAcceptedEvent{
		Conversation: conv.Wire(),
		Messages:     model.WireMessages(msgs),
	})

	return conv, msgs, nil
}

// Reject 拒绝会话请求
func (s *MessagingService) Reject(ctx context.Context, conversationID, userID int64) (*model.Conversation, error) {
	conv, changed, err := s.transition(ctx, conversationID, userID, model.StatusRejected)
	if err != nil {
		return nil, err
	}
	if !changed {
		return conv, nil
	}

	_ = s.router.SendEventToUser(ctx, conv.InitiatedBy, proto.EventRequestRejected, &proto.RequestRejectedEvent{
		ConversationID: conv.ID,
	})
	_ = s.router.SendEventToUser(ctx, userID, proto.EventRequestRejected, &proto.RequestRejectedEvent{
		ConversationID: conv.ID,
	})

	return conv, nil
}

// transition 会话状态迁移的公共路径
// 返回 changed=false 表示会话已处于目标状态（幂等重放，不再发事件）。
// rejected 对接收方不是死路：接收方改变主意后可以接受，恢复联系；
// 其余已拒绝/已接受之间的迁移一律拒绝
func (s *MessagingService) transition(ctx context.Context, conversationID, userID int64, to model.ConversationStatus) (*model.Conversation, bool, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, errors.ErrConversationNotFound
	}
	if !conv.HasMember(userID) {
		return nil, false, errors.ErrNotMember
	}
	// 发起方不能处理自己发出的请求
	if conv.InitiatedBy == userID {
		return nil, false, errors.ErrNotRecipient
	}

	ok, err := s.convRepo.UpdateStatus(ctx, conversationID, model.StatusPending, to)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// CAS 未命中：重读确认当前状态
		current, err := s.convRepo.FindByID(ctx, conversationID)
		if err != nil {
			return nil, false, err
		}
		if current == nil {
			return nil, false, errors.ErrConversationNotFound
		}
		if current.Status == to {
			// 已在目标状态，幂等成功
			return current, false, nil
		}
		if current.Status == model.StatusRejected && to == model.StatusAccepted {
			ok, err := s.convRepo.UpdateStatus(ctx, conversationID, model.StatusRejected, to)
			if err != nil {
				return nil, false, err
			}
			if ok {
				current.Status = to
				s.logger.Info("Conversation resumed after rejection",
					"conversationId", conversationID,
					"userId", userID)
				return current, true, nil
			}
		}
		// 已迁入另一个终态，不可再变
		return nil, false, errors.ErrConversationClosed
	}

	conv.Status = to
	s.logger.Info("Conversation transitioned",
		"conversationId", conversationID,
		"userId", userID,
		"status", to)
	return conv, true, nil
}

// Conversation 获取会话（带成员校验）
func (s *MessagingService) Conversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errors.ErrConversationNotFound
	}
	if !conv.HasMember(userID) {
		return nil, errors.ErrNotMember
	}
	return conv, nil
}

// Messages 按会话分页拉取消息
func (s *MessagingService) Messages(ctx context.Context, conversationID, viewerID, beforeID int64, limit int) ([]*model.Message, error) {
	if _, err := s.Conversation(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	return s.msgRepo.ListByConversation(ctx, conversationID, viewerID, beforeID, limit)
}

// UnreadMessages 拉取用户所有未读消息
// conversationIDs 非空时只返回这些会话的未读
func (s *MessagingService) UnreadMessages(ctx context.Context, userID int64, conversationIDs []int64) ([]*model.Message, error) {
	msgs, err := s.msgRepo.ListUnread(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(conversationIDs) == 0 {
		return msgs, nil
	}

	wanted := make(map[int64]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = struct{}{}
	}

	filtered := msgs[:0]
	for _, m := range msgs {
		if _, ok := wanted[m.ConversationID]; ok {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// ListAccepted 用户的已接受会话列表
func (s *MessagingService) ListAccepted(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	return s.convRepo.ListAccepted(ctx, userID)
}

// ListRequests 用户收到的待处理会话请求
func (s *MessagingService) ListRequests(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	return s.convRepo.ListRequests(ctx, userID)
}

// DeleteForMe 单侧删除消息，仅对删除者隐藏
func (s *MessagingService) DeleteForMe(ctx context.Context, userID, messageID int64) error {
	msg, err := s.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return errors.ErrMessageNotFound
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return errors.ErrNotMember
	}
	return s.msgRepo.AddDeletedFor(ctx, messageID, userID)
}

// DeleteForEveryone 发送者物理删除自己的消息
// 全部消息校验通过才执行删除，任何一条不满足则整体拒绝
func (s *MessagingService) DeleteForEveryone(ctx context.Context, userID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return errors.ErrInvalidParams
	}

	msgs, err := s.msgRepo.FindByIDs(ctx, messageIDs)
	if err != nil {
		return err
	}
	if len(msgs) != len(messageIDs) {
		return errors.ErrMessageNotFound
	}

	conversationID := msgs[0].ConversationID
	receiverID := msgs[0].ReceiverID
	for _, m := range msgs {
		if m.SenderID != userID {
			return errors.ErrNotSender
		}
		if m.ConversationID != conversationID {
			return errors.ErrInvalidParams
		}
	}

	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := s.msgRepo.WithTx(tx).DeleteByIDs(ctx, messageIDs); err != nil {
			return err
		}
		// 删除可能带走会话最新一条消息，指针跟消息同事务重算
		return s.convRepo.WithTx(tx).RefreshLastMessage(ctx, conversationID)
	})
	if err != nil {
		return err
	}

	event := &proto.MessageDeletedEvent{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	}
	_ = s.router.SendEventToUser(ctx, receiverID, proto.EventMessageDeleted, event)
	_ = s.router.SendEventToUser(ctx, userID, proto.EventMessageDeleted, event)

	return nil
}
