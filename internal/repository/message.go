package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.social.dm/internal/model"
)

// MessageRepository 消息仓库
type MessageRepository struct {
	db Querier
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// WithTx 返回绑定事务的仓库副本
func (r *MessageRepository) WithTx(tx pgx.Tx) *MessageRepository {
	return &MessageRepository{db: tx}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, text, delivered, is_read, deleted_for, created_at`

// Create 创建消息
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, text, delivered, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Text,
		msg.Delivered,
		msg.Read,
		msg.CreatedAt,
	)
	return err
}

// FindByID 根据 ID 查找消息，不存在返回 nil
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var msg model.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Text,
		&msg.Delivered,
		&msg.Read,
		&msg.DeletedFor,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// FindByIDs 批量查找消息
func (r *MessageRepository) FindByIDs(ctx context.Context, ids []int64) ([]*model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1) ORDER BY id ASC`
	return r.list(ctx, query, ids)
}

// ListByConversation 按会话列出消息，排除对查看者已删除的消息
// beforeID = 0 表示从最新开始，分页向前翻
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID, viewerID int64, beforeID int64, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		  AND NOT ($2 = ANY(deleted_for))
		  AND ($3 = 0 OR id < $3)
		ORDER BY id DESC
		LIMIT $4
	`
	msgs, err := r.list(ctx, query, conversationID, viewerID, beforeID, limit)
	if err != nil {
		return nil, err
	}

	// 翻转为时间升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListUnread 列出该用户作为接收方的所有未读消息，按消息ID升序
func (r *MessageRepository) ListUnread(ctx context.Context, userID int64) ([]*model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE receiver_id = $1
		  AND is_read = false
		  AND NOT ($1 = ANY(deleted_for))
		ORDER BY id ASC
	`
	return r.list(ctx, query, userID)
}

// MarkDelivered 批量标记送达，只更新属于该接收方且未送达的消息
// 返回实际变更的消息，重复确认自然幂等
func (r *MessageRepository) MarkDelivered(ctx context.Context, receiverID int64, ids []int64) ([]*model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		UPDATE messages SET delivered = true
		WHERE id = ANY($1) AND receiver_id = $2 AND delivered = false
		RETURNING ` + messageColumns + `
	`
	return r.list(ctx, query, ids, receiverID)
}

// MarkRead 批量标记已读，read 蕴含 delivered
func (r *MessageRepository) MarkRead(ctx context.Context, receiverID int64, ids []int64) ([]*model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		UPDATE messages SET delivered = true, is_read = true
		WHERE id = ANY($1) AND receiver_id = $2 AND is_read = false
		RETURNING ` + messageColumns + `
	`
	return r.list(ctx, query, ids, receiverID)
}

// AddDeletedFor 把用户加入消息的删除列表 (delete for me)
// 重复删除不追加
func (r *MessageRepository) AddDeletedFor(ctx context.Context, messageID, userID int64) error {
	query := `
		UPDATE messages SET deleted_for = array_append(deleted_for, $2)
		WHERE id = $1 AND NOT ($2 = ANY(deleted_for))
	`
	_, err := r.db.Exec(ctx, query, messageID, userID)
	return err
}

// DeleteByIDs 物理删除消息 (delete for everyone)
func (r *MessageRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var msg model.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Text,
			&msg.Delivered,
			&msg.Read,
			&msg.DeletedFor,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
