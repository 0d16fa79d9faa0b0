package connection

import (
	"context"
	"log/slog"
	"time"

	"sudooom.social.dm/internal/metrics"
)

// HeartbeatChecker 周期巡检本节点连接
// 已认证连接按心跳超时回收；未完成认证帧的连接按更短的认证期限回收，
// 避免只建会话不发认证帧的客户端占住资源
type HeartbeatChecker struct {
	manager       *Manager
	timeout       time.Duration
	authDeadline  time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
	onTimeout     func(conn *Connection)
}

// NewHeartbeatChecker 创建心跳巡检器，onTimeout 在关闭连接前回调（可为 nil）
func NewHeartbeatChecker(manager *Manager, timeout, checkInterval time.Duration, logger *slog.Logger, onTimeout func(conn *Connection)) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &HeartbeatChecker{
		manager:       manager,
		timeout:       timeout,
		authDeadline:  30 * time.Second,
		checkInterval: checkInterval,
		logger:        logger,
		onTimeout:     onTimeout,
	}
}

// Start 阻塞运行巡检循环，应在 goroutine 中调用
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"auth_deadline", h.authDeadline,
		"check_interval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep 扫描一轮，回收超时连接
func (h *HeartbeatChecker) sweep() {
	conns := h.manager.GetAllConnections()
	now := time.Now()
	reaped := 0

	for _, conn := range conns {
		if !h.expired(conn, now) {
			continue
		}
		reaped++
		h.reap(conn)
	}

	if reaped > 0 {
		h.logger.Info("Heartbeat sweep reaped connections",
			"total", len(conns),
			"reaped", reaped)
	}
}

func (h *HeartbeatChecker) expired(conn *Connection, now time.Time) bool {
	if !conn.IsAuthenticated() {
		return now.Sub(conn.CreateTime()) > h.authDeadline
	}
	return now.Sub(conn.LastActiveTime()) > h.timeout
}

func (h *HeartbeatChecker) reap(conn *Connection) {
	metrics.HeartbeatTimeouts.Inc()
	h.logger.Debug("Connection heartbeat timeout",
		"conn_id", conn.ID(),
		"user_id", conn.UserID(),
		"device_id", conn.DeviceID(),
		"authenticated", conn.IsAuthenticated(),
		"last_active", conn.LastActiveTime())

	// 在线状态按连接 ID 清理，与会话退出的重复回调互为幂等
	if h.onTimeout != nil {
		h.onTimeout(conn)
	}

	conn.Close()
	h.manager.Remove(conn.ID())
}
