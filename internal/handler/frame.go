package handler

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize 帧头大小：4 bytes length + 1 byte frame type
	FrameHeaderSize = 5

	// MaxFrameSize 单帧最大长度
	MaxFrameSize = 1 << 20
)

// 帧类型
const (
	FrameTypeAuth      byte = 1 // 认证请求（AuthRequest），连接首帧
	FrameTypeRequest   byte = 2 // 普通请求（ClientRequest）
	FrameTypeHeartbeat byte = 6 // 心跳帧

	// 响应帧类型
	FrameTypeAuthAck  byte = 3 // 认证响应
	FrameTypeResponse byte = 4 // 普通响应（ClientResponse）
	FrameTypeEvent    byte = 5 // 服务端推送（ServerEvent）
)

// BuildFrame 构建完整数据帧
func BuildFrame(frameType byte, body []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	frame[4] = frameType
	copy(frame[FrameHeaderSize:], body)
	return frame
}

// ReadFrame 从流中读取一帧
func ReadFrame(r io.Reader) (frameType byte, body []byte, err error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	frameType = header[4]

	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d", length)
	}

	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	return frameType, body, nil
}
