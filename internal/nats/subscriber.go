package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.social.dm/pkg/proto"
)

// DownstreamHandler 下行消息处理器接口
type DownstreamHandler interface {
	HandleDownstream(ctx context.Context, msg *proto.DownstreamMessage)
}

// SubscriberConfig Worker Pool 配置
type SubscriberConfig struct {
	WorkerCount int // Worker 数量
	BufferSize  int // 消息缓冲区大小
}

// DownstreamSubscriber 订阅本节点下行 Subject 和广播 Subject
type DownstreamSubscriber struct {
	nc            *nats.Conn
	nodeID        string
	handler       DownstreamHandler
	logger        *slog.Logger
	subscriptions []*nats.Subscription
	config        SubscriberConfig
	msgChan       chan *nats.Msg
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
}

// NewDownstreamSubscriber 创建下行消息订阅器
func NewDownstreamSubscriber(nc *nats.Conn, nodeID string, handler DownstreamHandler, config SubscriberConfig) *DownstreamSubscriber {
	// 设置默认值
	if config.WorkerCount <= 0 {
		config.WorkerCount = 32
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	return &DownstreamSubscriber{
		nc:      nc,
		nodeID:  nodeID,
		handler: handler,
		logger:  slog.Default(),
		config:  config,
	}
}

// Start 启动订阅
func (s *DownstreamSubscriber) Start(ctx context.Context) error {
	// 创建带缓冲的消息通道
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	// 创建可取消的上下文
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	// 启动 Worker Pool
	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	enqueue := func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
			// 消息入队成功
		default:
			// 缓冲区满，记录警告
			s.logger.Warn("Message buffer full, dropping message", "bufferSize", s.config.BufferSize)
		}
	}

	subjects := []string{BuildDownstreamSubject(s.nodeID), SubjectGatewayBroadcast}
	for _, subject := range subjects {
		sub, err := s.nc.Subscribe(subject, enqueue)
		if err != nil {
			cancel()
			return err
		}
		s.subscriptions = append(s.subscriptions, sub)
	}

	s.logger.Info("NATS downstream subscriber started",
		"nodeId", s.nodeID,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

// worker 工作协程
func (s *DownstreamSubscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				return
			}
			s.handleMessage(ctx, msg.Data)
		}
	}
}

// handleMessage 处理下行消息
func (s *DownstreamSubscriber) handleMessage(ctx context.Context, data []byte) {
	var message proto.DownstreamMessage
	if err := json.Unmarshal(data, &message); err != nil {
		s.logger.Error("Failed to unmarshal downstream message", "error", err)
		return
	}

	s.handler.HandleDownstream(ctx, &message)
}

// Stop 停止订阅
func (s *DownstreamSubscriber) Stop() error {
	// 取消 worker 上下文
	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	// 取消订阅
	for _, sub := range s.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}

	// 关闭消息通道
	if s.msgChan != nil {
		close(s.msgChan)
	}

	// 等待所有 worker 完成
	s.wg.Wait()

	s.logger.Info("NATS downstream subscriber stopped")
	return nil
}
