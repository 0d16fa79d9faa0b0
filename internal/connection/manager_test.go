package connection

import (
	"log/slog"
	"testing"
)

// newTestConn 构造不带底层会话的连接（只测管理逻辑,不触发写循环）
func newTestConn() *Connection {
	c := &Connection{
		id:        nextTestID(),
		logger:    slog.Default(),
		writeChan: make(chan []byte, 1),
		closeChan: make(chan struct{}),
		joined:    make(map[int64]struct{}),
	}
	return c
}

var testIDCounter int64

func nextTestID() int64 {
	testIDCounter++
	return testIDCounter
}

// TestManagerMultiDevice 同一用户多连接共存
func TestManagerMultiDevice(t *testing.T) {
	m := NewManager()

	conn1 := newTestConn()
	conn2 := newTestConn()

	m.Add(conn1)
	m.Add(conn2)

	conn1.BindUser(42, "device-a", "web")
	conn2.BindUser(42, "device-b", "desktop")
	m.BindUser(conn1.ID(), 42)
	m.BindUser(conn2.ID(), 42)

	conns := m.GetByUserID(42)
	if len(conns) != 2 {
		t.Fatalf("期望用户有2个连接, 实际 = %d", len(conns))
	}

	// 移除一个连接不影响另一个
	m.Remove(conn1.ID())

	conns = m.GetByUserID(42)
	if len(conns) != 1 {
		t.Fatalf("期望用户剩1个连接, 实际 = %d", len(conns))
	}
	if conns[0].ID() != conn2.ID() {
		t.Errorf("期望剩下的是 conn2")
	}

	m.Remove(conn2.ID())
	if conns := m.GetByUserID(42); conns != nil {
		t.Errorf("期望用户索引被清空, 实际 = %v", conns)
	}
}

// TestManagerRemoveUnknown 移除不存在的连接不报错
func TestManagerRemoveUnknown(t *testing.T) {
	m := NewManager()
	m.Remove(999)

	if m.Count() != 0 {
		t.Errorf("期望连接数 = 0, 实际 = %d", m.Count())
	}
}

// TestConnectionJoinLeave 测试会话频道加入/离开
func TestConnectionJoinLeave(t *testing.T) {
	conn := newTestConn()

	if conn.IsJoined(10) {
		t.Error("初始不应加入任何频道")
	}

	conn.Join(10)
	conn.Join(20)

	if !conn.IsJoined(10) || !conn.IsJoined(20) {
		t.Error("期望已加入频道 10 和 20")
	}

	conn.Leave(10)
	if conn.IsJoined(10) {
		t.Error("期望已离开频道 10")
	}
	if !conn.IsJoined(20) {
		t.Error("离开频道 10 不应影响频道 20")
	}
}

// TestBroadcastToConversation 会话范围投递只命中已加入的连接
func TestBroadcastToConversation(t *testing.T) {
	m := NewManager()

	joined := newTestConn()
	notJoined := newTestConn()
	m.Add(joined)
	m.Add(notJoined)

	joined.Join(10)

	m.BroadcastToConversation(10, 0, []byte("typing"))

	select {
	case <-joined.writeChan:
		// 已加入的连接收到
	default:
		t.Error("期望已加入频道的连接收到数据")
	}

	select {
	case <-notJoined.writeChan:
		t.Error("未加入频道的连接不应收到数据")
	default:
	}
}

// TestBroadcastToConversationExcludesUser 排除指定用户的全部连接
// 输入状态只发给会话里的其他成员,输入者自己的设备不回显
func TestBroadcastToConversationExcludesUser(t *testing.T) {
	m := NewManager()

	typer := newTestConn()
	typerOther := newTestConn()
	peer := newTestConn()
	for _, c := range []*Connection{typer, typerOther, peer} {
		m.Add(c)
		c.Join(10)
	}

	typer.BindUser(1, "device-a", "web")
	typerOther.BindUser(1, "device-b", "desktop")
	peer.BindUser(2, "device-c", "web")

	m.BroadcastToConversation(10, 1, []byte("typing"))

	select {
	case <-peer.writeChan:
	default:
		t.Error("期望对方成员收到数据")
	}

	for _, c := range []*Connection{typer, typerOther} {
		select {
		case <-c.writeChan:
			t.Errorf("被排除用户的连接 %d 不应收到数据", c.ID())
		default:
		}
	}
}

// TestConnectionAuthenticated 测试认证状态
func TestConnectionAuthenticated(t *testing.T) {
	conn := newTestConn()

	if conn.IsAuthenticated() {
		t.Error("未绑定用户时不应是已认证状态")
	}

	conn.BindUser(7, "device-x", "web")

	if !conn.IsAuthenticated() {
		t.Error("绑定用户后应是已认证状态")
	}
	if conn.UserID() != 7 || conn.DeviceID() != "device-x" {
		t.Errorf("绑定信息不正确: userID=%d deviceID=%s", conn.UserID(), conn.DeviceID())
	}
}
