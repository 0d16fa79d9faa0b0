package nats

// NATS Subject 常量定义
const (
	// SubjectGatewayDownstreamPrefix 节点下行消息前缀
	// 完整格式: dm.gateway.{node_id}.downstream
	SubjectGatewayDownstreamPrefix = "dm.gateway."
	SubjectGatewayDownstreamSuffix = ".downstream"

	// SubjectGatewayBroadcast 全节点广播消息
	SubjectGatewayBroadcast = "dm.gateway.broadcast"
)

// BuildDownstreamSubject 构建节点下行 Subject
func BuildDownstreamSubject(nodeID string) string {
	return SubjectGatewayDownstreamPrefix + nodeID + SubjectGatewayDownstreamSuffix
}
