package nats

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.social.dm/pkg/proto"
)

// DownstreamPublisher 下行消息发布器
type DownstreamPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewDownstreamPublisher 创建下行消息发布器
func NewDownstreamPublisher(nc *nats.Conn) *DownstreamPublisher {
	return &DownstreamPublisher{
		nc:     nc,
		logger: slog.Default(),
	}
}

// PublishToNode 推送消息到指定网关节点
func (p *DownstreamPublisher) PublishToNode(nodeID string, message *proto.DownstreamMessage) error {
	subject := BuildDownstreamSubject(nodeID)
	data, err := json.Marshal(message)
	if err != nil {
		p.logger.Error("Failed to marshal downstream message", "error", err)
		return err
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish to node", "nodeId", nodeID, "error", err)
		return err
	}

	p.logger.Debug("Published downstream message", "nodeId", nodeID, "event", message.Event)
	return nil
}

// Broadcast 广播消息到所有网关节点
func (p *DownstreamPublisher) Broadcast(message *proto.DownstreamMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		p.logger.Error("Failed to marshal broadcast message", "error", err)
		return err
	}

	if err := p.nc.Publish(SubjectGatewayBroadcast, data); err != nil {
		p.logger.Error("Failed to broadcast message", "error", err)
		return err
	}

	p.logger.Debug("Broadcasted message to all nodes", "event", message.Event)
	return nil
}
