package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.social.dm/internal/model"
)

// ConversationRepository 会话仓库
type ConversationRepository struct {
	db Querier
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// WithTx 返回绑定事务的仓库副本
func (r *ConversationRepository) WithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

const conversationColumns = `id, member_low, member_high, status, initiated_by, last_message_id, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.MemberLow,
		&conv.MemberHigh,
		&conv.Status,
		&conv.InitiatedBy,
		&conv.LastMessageID,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// FindByID 根据 ID 查找会话，不存在返回 nil
func (r *ConversationRepository) FindByID(ctx context.Context, id int64) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, id))
}

// FindByMembers 根据成员对查找会话，不存在返回 nil
// 成员对在入库前已排序，任意参数顺序都能命中
func (r *ConversationRepository) FindByMembers(ctx context.Context, a, b int64) (*model.Conversation, error) {
	low, high := model.SortMembers(a, b)
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE member_low = $1 AND member_high = $2`
	return scanConversation(r.db.QueryRow(ctx, query, low, high))
}

// CreatePending 插入 pending 会话
// 成员对唯一约束冲突时不报错，返回 false 表示已有会话存在
func (r *ConversationRepository) CreatePending(ctx context.Context, conv *model.Conversation) (bool, error) {
	query := `
		INSERT INTO conversations (id, member_low, member_high, status, initiated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (member_low, member_high) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		conv.ID,
		conv.MemberLow,
		conv.MemberHigh,
		conv.Status,
		conv.InitiatedBy,
		conv.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus 状态迁移，仅当当前状态匹配 from 时生效
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id int64, from, to model.ConversationStatus) (bool, error) {
	query := `UPDATE conversations SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLastMessage 记录会话最新消息
func (r *ConversationRepository) RecordLastMessage(ctx context.Context, id, messageID int64, at time.Time) error {
	query := `UPDATE conversations SET last_message_id = $2, last_message_at = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, messageID, at)
	return err
}

// RefreshLastMessage 按存量消息重算会话最新消息指针
// 物理删除消息后调用，会话内已无消息时两列置 NULL
func (r *ConversationRepository) RefreshLastMessage(ctx context.Context, id int64) error {
	query := `
		UPDATE conversations SET
			last_message_id = (SELECT id FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1),
			last_message_at = (SELECT created_at FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// ListAccepted 列出用户所有已接受的会话，按最新消息时间倒序
func (r *ConversationRepository) ListAccepted(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (member_low = $1 OR member_high = $1) AND status = $2
		ORDER BY last_message_at DESC NULLS LAST, id DESC
	`
	return r.list(ctx, query, userID, model.StatusAccepted)
}

// ListRequests 列出用户收到的待处理会话请求
// 仅包含对方发起的 pending 会话
func (r *ConversationRepository) ListRequests(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (member_low = $1 OR member_high = $1) AND status = $2 AND initiated_by <> $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, userID, model.StatusPending)
}

func (r *ConversationRepository) list(ctx context.Context, query string, args ...any) ([]*model.Conversation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		var conv model.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.MemberLow,
			&conv.MemberHigh,
			&conv.Status,
			&conv.InitiatedBy,
			&conv.LastMessageID,
			&conv.LastMessageAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}
