package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quic-go/webtransport-go"

	"sudooom.social.dm/internal/connection"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/proto"
)

// HandleFirstStream 处理首个数据流，必须是认证请求
// 返回 error 表示认证失败，调用方应关闭连接
// 认证成功后流保持打开，调用方应继续在此流上处理后续消息
func (h *Handler) HandleFirstStream(ctx context.Context, conn *connection.Connection, stream *webtransport.Stream) error {
	frameType, body, err := ReadFrame(stream)
	if err != nil {
		return fmt.Errorf("failed to read first frame: %w", err)
	}

	// 检查首包必须是 Auth 请求
	if frameType != FrameTypeAuth {
		h.logger.Warn("First frame must be auth request", "conn_id", conn.ID(), "frameType", frameType)
		h.sendAuthError(conn, errors.ErrAuthRequired)
		return fmt.Errorf("first frame is not auth request")
	}

	conn.UpdateActive()

	return h.handleAuth(ctx, conn, body)
}

// handleAuth 处理认证请求，返回 error 表示认证失败
func (h *Handler) handleAuth(ctx context.Context, conn *connection.Connection, body []byte) error {
	var authReq proto.AuthRequest
	if err := json.Unmarshal(body, &authReq); err != nil {
		h.sendAuthError(conn, errors.ErrInvalidParams)
		return fmt.Errorf("failed to unmarshal auth request: %w", err)
	}

	// 校验 JWT
	claims, err := h.jwtService.ValidateAccessToken(authReq.Token)
	if err != nil {
		h.logger.Warn("Token validation failed", "conn_id", conn.ID(), "error", err)
		h.sendAuthError(conn, errors.ErrTokenInvalid)
		return fmt.Errorf("invalid token: %w", err)
	}

	// 比对 deviceId，token 不能跨设备使用
	if authReq.DeviceID != "" && claims.DeviceID != authReq.DeviceID {
		h.logger.Warn("DeviceID mismatch", "conn_id", conn.ID(), "expected", claims.DeviceID, "got", authReq.DeviceID)
		h.sendAuthError(conn, errors.ErrTokenInvalid)
		return fmt.Errorf("device mismatch")
	}

	// 验证 token 是否是该用户该设备当前有效的 token（被下线的 token 不能连接）
	isCurrent, err := h.store.IsTokenCurrent(ctx, claims.UserID, claims.DeviceID, authReq.Token)
	if err != nil {
		h.logger.Error("Failed to check token validity", "error", err)
		h.sendAuthError(conn, errors.ErrServerError)
		return fmt.Errorf("redis error: %w", err)
	}
	if !isCurrent {
		h.logger.Warn("Token is not current", "conn_id", conn.ID(), "user_id", claims.UserID)
		h.sendAuthError(conn, errors.ErrTokenReplaced)
		return fmt.Errorf("token is not current")
	}

	// 绑定认证身份，多设备连接共存
	conn.BindUser(claims.UserID, claims.DeviceID, string(claims.Platform))
	h.connMgr.BindUser(conn.ID(), claims.UserID)

	// 注册用户位置到 Redis（包含 connId）
	if err := h.store.RegisterLocation(ctx, claims.UserID, conn.ID(), claims.DeviceID, string(claims.Platform)); err != nil {
		h.logger.Error("Failed to register user location", "error", err)
	}

	// 在线状态跟踪（首个连接会广播上线）
	h.tracker.OnConnect(ctx, claims.UserID, conn.ID())

	// 发送认证成功响应
	ack := proto.AuthAck{
		UserID:     claims.UserID,
		ConnID:     conn.ID(),
		ServerTime: time.Now().UnixMilli(),
	}
	h.writeFrame(conn, FrameTypeAuthAck, &ack)

	// 推送在线用户快照
	h.pushOnlineSnapshot(ctx, conn)

	h.logger.Info("User authenticated",
		"conn_id", conn.ID(),
		"user_id", claims.UserID,
		"device_id", claims.DeviceID)

	return nil
}

// sendAuthError 发送认证失败响应
func (h *Handler) sendAuthError(conn *connection.Connection, err error) {
	resp := proto.ClientResponse{
		Code:      errors.GetCode(err),
		Msg:       errors.GetMessage(err),
		Timestamp: time.Now().UnixMilli(),
	}
	h.writeFrame(conn, FrameTypeAuthAck, &resp)
}

// pushOnlineSnapshot 新连接建立后下发在线用户快照
func (h *Handler) pushOnlineSnapshot(ctx context.Context, conn *connection.Connection) {
	users, err := h.tracker.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("Failed to load online snapshot", "error", err)
		return
	}

	payload, err := json.Marshal(&proto.OnlineUsersSnapshotEvent{OnlineUsers: users})
	if err != nil {
		return
	}
	h.SendEvent(conn, proto.EventOnlineUsersSnapshot, payload)
}

// OnDisconnect 连接断开时的清理
// 由 server 在会话结束时调用
func (h *Handler) OnDisconnect(ctx context.Context, conn *connection.Connection) {
	if !conn.IsAuthenticated() {
		return
	}

	if err := h.store.UnregisterLocation(ctx, conn.UserID(), conn.ID()); err != nil {
		h.logger.Error("Failed to unregister user location", "error", err)
	}

	// 进入离线宽限期，期间重连不产生下线事件
	// 按连接 ID 移除，心跳超时与会话清理重复回调也只计一次
	h.tracker.OnDisconnect(ctx, conn.UserID(), conn.ID())
}
