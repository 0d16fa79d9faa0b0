package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"
)

var connIDCounter int64

// Connection 表示一个客户端连接
// joined 记录连接已加入的会话频道，会话范围事件按此过滤
type Connection struct {
	id         int64
	userID     int64
	deviceID   string
	platform   string
	session    *webtransport.Session
	logger     *slog.Logger
	writeChan  chan []byte
	closeChan  chan struct{}
	closeOnce  sync.Once
	createTime time.Time
	lastActive atomic.Int64 // UnixNano

	joinedMu sync.RWMutex
	joined   map[int64]struct{}
}

// NewFromWebTransport 从 WebTransport 会话创建连接
func NewFromWebTransport(session *webtransport.Session, logger *slog.Logger) *Connection {
	id := atomic.AddInt64(&connIDCounter, 1)
	c := &Connection{
		id:         id,
		session:    session,
		logger:     logger,
		writeChan:  make(chan []byte, 256),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
		joined:     make(map[int64]struct{}),
	}
	c.lastActive.Store(time.Now().UnixNano())
	go c.writeLoop()
	return c
}

func (c *Connection) ID() int64 {
	return c.id
}

func (c *Connection) UserID() int64 {
	return c.userID
}

func (c *Connection) DeviceID() string {
	return c.deviceID
}

func (c *Connection) Platform() string {
	return c.platform
}

// BindUser 绑定认证身份（认证帧通过后调用一次）
func (c *Connection) BindUser(userID int64, deviceID, platform string) {
	c.userID = userID
	c.deviceID = deviceID
	c.platform = platform
	c.lastActive.Store(time.Now().UnixNano())
}

// IsAuthenticated 连接是否已通过认证
func (c *Connection) IsAuthenticated() bool {
	return c.userID > 0
}

func (c *Connection) WebTransportSession() *webtransport.Session {
	return c.session
}

// Join 加入会话频道
func (c *Connection) Join(conversationID int64) {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	c.joined[conversationID] = struct{}{}
}

// Leave 离开会话频道
func (c *Connection) Leave(conversationID int64) {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	delete(c.joined, conversationID)
}

// IsJoined 连接是否已加入该会话频道
func (c *Connection) IsJoined(conversationID int64) bool {
	c.joinedMu.RLock()
	defer c.joinedMu.RUnlock()
	_, ok := c.joined[conversationID]
	return ok
}

// Send 异步发送数据帧
func (c *Connection) Send(data []byte) error {
	select {
	case c.writeChan <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeChan:
			stream, err := c.session.OpenStream()
			if err != nil {
				c.logger.Error("Failed to open stream", "error", err)
				continue
			}
			if _, err := stream.Write(data); err != nil {
				c.logger.Error("Failed to write to stream", "error", err)
			}
			stream.Close()
		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭连接，幂等
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.session.CloseWithError(0, "connection closed")
	})
}

// UpdateActive 更新活跃时间（收到任何帧时调用）
func (c *Connection) UpdateActive() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActiveTime 最后活跃时间
func (c *Connection) LastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) CreateTime() time.Time {
	return c.createTime
}
