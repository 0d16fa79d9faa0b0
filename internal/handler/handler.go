package handler

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"log/slog"

	"github.com/quic-go/webtransport-go"

	"sudooom.social.dm/internal/connection"
	"sudooom.social.dm/internal/metrics"
	"sudooom.social.dm/internal/presence"
	"sudooom.social.dm/internal/redisstore"
	"sudooom.social.dm/internal/service"
	"sudooom.social.dm/internal/typing"
	"sudooom.social.dm/internal/workerpool"
	"sudooom.social.dm/pkg/errors"
	"sudooom.social.dm/pkg/jwt"
	"sudooom.social.dm/pkg/proto"
)

// Buffer Pool 默认容量（4KB，适合大多数消息）
const defaultBufferCap = 4096

type Handler struct {
	connMgr    *connection.Manager
	messaging  *service.MessagingService
	receipts   *service.ReceiptService
	typing     *typing.Coordinator
	tracker    *presence.Tracker
	store      *redisstore.Client
	jwtService *jwt.Service
	nodeID     string
	logger     *slog.Logger
	workerPool *workerpool.Pool
	bufferPool *sync.Pool // 消息 buffer 对象池，减少内存分配
}

func NewHandler(
	connMgr *connection.Manager,
	messaging *service.MessagingService,
	receipts *service.ReceiptService,
	typingCoord *typing.Coordinator,
	tracker *presence.Tracker,
	store *redisstore.Client,
	jwtService *jwt.Service,
	nodeID string,
	logger *slog.Logger,
	workerPool *workerpool.Pool,
) *Handler {
	return &Handler{
		connMgr:    connMgr,
		messaging:  messaging,
		receipts:   receipts,
		typing:     typingCoord,
		tracker:    tracker,
		store:      store,
		jwtService: jwtService,
		nodeID:     nodeID,
		logger:     logger,
		workerPool: workerPool,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, 0, defaultBufferCap)
			},
		},
	}
}

// HandleStream 处理客户端流（连接已认证）
func (h *Handler) HandleStream(ctx context.Context, conn *connection.Connection, stream *webtransport.Stream) {
	defer stream.Close()

	for {
		frameType, body, err := ReadFrame(stream)
		if err != nil {
			if err != io.EOF {
				h.logger.Debug("Failed to read frame", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		conn.UpdateActive()

		// 从对象池获取buffer
		buf := h.bufferPool.Get().([]byte)
		if cap(buf) < len(body) {
			buf = make([]byte, len(body))
		} else {
			buf = buf[:len(body)]
		}
		copy(buf, body)

		// 异步提交到 Worker Pool，避免阻塞消息读取循环
		// 响应统一走连接写通道，不存在并发写同一流的问题
		submitted := h.workerPool.Submit(func() {
			defer h.bufferPool.Put(buf[:0]) // 处理完后归还到对象池
			h.dispatch(ctx, conn, frameType, buf)
		})

		if !submitted {
			h.logger.Warn("Worker pool is shutting down, message dropped")
			h.bufferPool.Put(buf[:0])
		}
	}
}

// dispatch 根据帧类型分发处理
func (h *Handler) dispatch(ctx context.Context, conn *connection.Connection, frameType byte, body []byte) {
	switch frameType {
	case FrameTypeAuth:
		h.logger.Warn("Unexpected auth request after authentication", "conn_id", conn.ID())
	case FrameTypeRequest:
		h.handleClientRequest(ctx, conn, body)
	default:
		h.logger.Warn("Unknown frame type", "frameType", frameType)
	}
}

// handleClientRequest 处理客户端请求
func (h *Handler) handleClientRequest(ctx context.Context, conn *connection.Connection, body []byte) {
	var req proto.ClientRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("Failed to unmarshal client request", "conn_id", conn.ID(), "error", err)
		h.sendError(conn, "", errors.ErrInvalidParams)
		return
	}

	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())
	}()

	switch req.Op {
	case proto.OpSendMessage:
		h.handleSendMessage(ctx, conn, &req)
	case proto.OpJoinConversation:
		h.handleJoinConversation(ctx, conn, &req)
	case proto.OpLeaveConversation:
		h.handleLeaveConversation(conn, &req)
	case proto.OpMessageDelivered:
		h.handleMessageDelivered(ctx, conn, &req)
	case proto.OpMarkMessageRead:
		h.handleMarkMessageRead(ctx, conn, &req)
	case proto.OpTyping:
		h.handleTyping(ctx, conn, &req)
	case proto.OpAcceptConversation:
		h.handleAcceptConversation(ctx, conn, &req)
	case proto.OpRejectConversation:
		h.handleRejectConversation(ctx, conn, &req)
	case proto.OpGetUnreadMessages:
		h.handleGetUnreadMessages(ctx, conn, &req)
	case proto.OpHeartbeat:
		h.handleHeartbeat(ctx, conn, &req)
	default:
		h.logger.Warn("Unknown op", "op", req.Op, "conn_id", conn.ID())
		h.sendError(conn, req.ReqID, errors.ErrInvalidParams)
	}
}

// sendResponse 发送成功响应
func (h *Handler) sendResponse(conn *connection.Connection, reqID string, payload any) {
	resp := proto.ClientResponse{
		ReqID:     reqID,
		Code:      errors.CodeSuccess,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("Failed to marshal response payload", "error", err)
			return
		}
		resp.Payload = data
	}

	h.writeFrame(conn, FrameTypeResponse, &resp)
}

// sendError 发送错误响应
func (h *Handler) sendError(conn *connection.Connection, reqID string, err error) {
	resp := proto.ClientResponse{
		ReqID:     reqID,
		Code:      errors.GetCode(err),
		Msg:       errors.GetMessage(err),
		Timestamp: time.Now().UnixMilli(),
	}
	h.writeFrame(conn, FrameTypeResponse, &resp)
}

// SendEvent 推送服务端事件到连接
func (h *Handler) SendEvent(conn *connection.Connection, event string, payload json.RawMessage) {
	metrics.EventsDelivered.WithLabelValues(event).Inc()
	evt := proto.ServerEvent{
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	h.writeFrame(conn, FrameTypeEvent, &evt)
}

func (h *Handler) writeFrame(conn *connection.Connection, frameType byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal frame body", "error", err)
		return
	}
	if err := conn.Send(BuildFrame(frameType, data)); err != nil {
		h.logger.Debug("Failed to send frame, connection closed", "conn_id", conn.ID())
	}
}
