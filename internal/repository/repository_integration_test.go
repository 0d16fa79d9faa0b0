package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.social.dm/internal/model"
	"sudooom.social.dm/pkg/snowflake"
)

// 测试配置 - 使用环境变量或默认值
var (
	testDBHost     = getEnv("POSTGRES_HOST", "localhost")
	testDBPort     = getEnv("POSTGRES_PORT", "5432")
	testDBUser     = getEnv("POSTGRES_USER", "postgres")
	testDBPassword = getEnv("POSTGRES_PASSWORD", "password")
	testDBName     = getEnv("POSTGRES_DB", "dm_db")
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupRepoTest 初始化集成测试环境
func setupRepoTest(t *testing.T) (*pgxpool.Pool, *snowflake.Node) {
	t.Helper()

	ctx := context.Background()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testDBUser, testDBPassword, testDBHost, testDBPort, testDBName)

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("跳过集成测试: 无法连接数据库: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		t.Skipf("跳过集成测试: 数据库 ping 失败: %v", err)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db, node
}

// newTestConversation 构造一个待插入的 pending 会话
func newTestConversation(node *snowflake.Node, a, b int64) *model.Conversation {
	low, high := model.SortMembers(a, b)
	return &model.Conversation{
		ID:          node.Generate().Int64(),
		MemberLow:   low,
		MemberHigh:  high,
		Status:      model.StatusPending,
		InitiatedBy: a,
		CreatedAt:   time.Now(),
	}
}

// TestConversationCreateAndFind 测试会话创建和查找
func TestConversationCreateAndFind(t *testing.T) {
	db, node := setupRepoTest(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()

	conv := newTestConversation(node, userA, userB)
	inserted, err := repo.CreatePending(ctx, conv)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 成员顺序无关
	found, err := repo.FindByMembers(ctx, userB, userA)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, conv.ID, found.ID)
	assert.Equal(t, model.StatusPending, found.Status)
	assert.Equal(t, userA, found.InitiatedBy)

	// 不存在的会话返回 nil, nil
	missing, err := repo.FindByMembers(ctx, userA, node.Generate().Int64())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestConversationCreateConflict 测试成员对唯一约束
func TestConversationCreateConflict(t *testing.T) {
	db, node := setupRepoTest(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()

	inserted, err := repo.CreatePending(ctx, newTestConversation(node, userA, userB))
	require.NoError(t, err)
	assert.True(t, inserted)

	// 对方也来创建,应该命中唯一约束
	inserted, err = repo.CreatePending(ctx, newTestConversation(node, userB, userA))
	require.NoError(t, err)
	assert.False(t, inserted)
}

// TestConversationConcurrentCreate 测试并发创建同一成员对只产生一个会话
func TestConversationConcurrentCreate(t *testing.T) {
	db, node := setupRepoTest(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()

	const attempts = 16
	var wg sync.WaitGroup
	insertedCount := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(initiator, peer int64) {
			defer wg.Done()
			conv := newTestConversation(node, initiator, peer)
			ok, err := repo.CreatePending(ctx, conv)
			if err != nil {
				t.Errorf("并发创建失败: %v", err)
				return
			}
			insertedCount <- ok
		}(userA, userB)
	}

	wg.Wait()
	close(insertedCount)

	wins := 0
	for ok := range insertedCount {
		if ok {
			wins++
		}
	}

	// 只有一个协程成功插入
	assert.Equal(t, 1, wins)

	found, err := repo.FindByMembers(ctx, userA, userB)
	require.NoError(t, err)
	require.NotNil(t, found)
}

// TestConversationStatusTransition 测试状态迁移
func TestConversationStatusTransition(t *testing.T) {
	db, node := setupRepoTest(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	conv := newTestConversation(node, node.Generate().Int64(), node.Generate().Int64())
	_, err := repo.CreatePending(ctx, conv)
	require.NoError(t, err)

	// pending -> accepted
	ok, err := repo.UpdateStatus(ctx, conv.ID, model.StatusPending, model.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	// accepted 是终态,再次迁移失败
	ok, err = repo.UpdateStatus(ctx, conv.ID, model.StatusPending, model.StatusRejected)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, found.Status)
}

// newTestMessage 构造消息
func newTestMessage(node *snowflake.Node, convID, sender, receiver int64, text string) *model.Message {
	return &model.Message{
		ID:             node.Generate().Int64(),
		ConversationID: convID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

// TestMessageCreateAndList 测试消息创建和按会话列出
func TestMessageCreateAndList(t *testing.T) {
	db, node := setupRepoTest(t)
	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()
	conv := newTestConversation(node, userA, userB)
	_, err := convRepo.CreatePending(ctx, conv)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg := newTestMessage(node, conv.ID, userA, userB, fmt.Sprintf("hello %d", i))
		require.NoError(t, msgRepo.Create(ctx, msg))
	}

	msgs, err := msgRepo.ListByConversation(ctx, conv.ID, userB, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// 时间升序
	assert.Equal(t, "hello 0", msgs[0].Text)
	assert.Equal(t, "hello 2", msgs[2].Text)
	assert.False(t, msgs[0].Delivered)
	assert.False(t, msgs[0].Read)
}

// TestMessageReceipts 测试送达和已读回执的幂等性
func TestMessageReceipts(t *testing.T) {
	db, node := setupRepoTest(t)
	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()
	conv := newTestConversation(node, userA, userB)
	_, err := convRepo.CreatePending(ctx, conv)
	require.NoError(t, err)

	msg := newTestMessage(node, conv.ID, userA, userB, "receipt me")
	require.NoError(t, msgRepo.Create(ctx, msg))

	// 接收方确认送达
	changed, err := msgRepo.MarkDelivered(ctx, userB, []int64{msg.ID})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Delivered)

	// 重复确认不产生变更
	changed, err = msgRepo.MarkDelivered(ctx, userB, []int64{msg.ID})
	require.NoError(t, err)
	assert.Empty(t, changed)

	// 发送方不能确认自己消息的送达
	changed, err = msgRepo.MarkDelivered(ctx, userA, []int64{msg.ID})
	require.NoError(t, err)
	assert.Empty(t, changed)

	// 已读蕴含送达
	changed, err = msgRepo.MarkRead(ctx, userB, []int64{msg.ID})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Read)
	assert.True(t, changed[0].Delivered)

	// 重复已读不产生变更
	changed, err = msgRepo.MarkRead(ctx, userB, []int64{msg.ID})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

// TestMessageReadImpliesDelivered 测试跳过送达直接已读
func TestMessageReadImpliesDelivered(t *testing.T) {
	db, node := setupRepoTest(t)
	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()
	conv := newTestConversation(node, userA, userB)
	_, err := convRepo.CreatePending(ctx, conv)
	require.NoError(t, err)

	msg := newTestMessage(node, conv.ID, userA, userB, "read directly")
	require.NoError(t, msgRepo.Create(ctx, msg))

	changed, err := msgRepo.MarkRead(ctx, userB, []int64{msg.ID})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Delivered, "已读必须同时置为已送达")
}

// TestMessageDeleteForMe 测试单侧删除
func TestMessageDeleteForMe(t *testing.T) {
	db, node := setupRepoTest(t)
	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()
	conv := newTestConversation(node, userA, userB)
	_, err := convRepo.CreatePending(ctx, conv)
	require.NoError(t, err)

	msg := newTestMessage(node, conv.ID, userA, userB, "hide me")
	require.NoError(t, msgRepo.Create(ctx, msg))

	require.NoError(t, msgRepo.AddDeletedFor(ctx, msg.ID, userB))
	// 重复删除幂等
	require.NoError(t, msgRepo.AddDeletedFor(ctx, msg.ID, userB))

	// 删除方看不到
	msgs, err := msgRepo.ListByConversation(ctx, conv.ID, userB, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 对方仍然可见
	msgs, err = msgRepo.ListByConversation(ctx, conv.ID, userA, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []int64{userB}, msgs[0].DeletedFor)
}

// TestMessageListUnread 测试未读消息查询
func TestMessageListUnread(t *testing.T) {
	db, node := setupRepoTest(t)
	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)
	ctx := context.Background()

	userA := node.Generate().Int64()
	userB := node.Generate().Int64()
	conv := newTestConversation(node, userA, userB)
	_, err := convRepo.CreatePending(ctx, conv)
	require.NoError(t, err)

	first := newTestMessage(node, conv.ID, userA, userB, "unread 1")
	second := newTestMessage(node, conv.ID, userA, userB, "unread 2")
	require.NoError(t, msgRepo.Create(ctx, first))
	require.NoError(t, msgRepo.Create(ctx, second))

	unread, err := msgRepo.ListUnread(ctx, userB)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(unread), 2)

	// 读掉第一条后不再出现
	_, err = msgRepo.MarkRead(ctx, userB, []int64{first.ID})
	require.NoError(t, err)

	unread, err = msgRepo.ListUnread(ctx, userB)
	require.NoError(t, err)
	for _, m := range unread {
		assert.NotEqual(t, first.ID, m.ID)
	}
}
