package handler

import (
	"bytes"
	"io"
	"testing"
)

// TestFrameRoundTrip 测试帧编解码
func TestFrameRoundTrip(t *testing.T) {
	body := []byte(`{"op":"sendMessage"}`)
	frame := BuildFrame(FrameTypeRequest, body)

	if len(frame) != FrameHeaderSize+len(body) {
		t.Fatalf("期望帧长 = %d, 实际 = %d", FrameHeaderSize+len(body), len(frame))
	}

	frameType, got, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("读帧失败: %v", err)
	}
	if frameType != FrameTypeRequest {
		t.Errorf("期望帧类型 = %d, 实际 = %d", FrameTypeRequest, frameType)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("帧体不一致: %s", got)
	}
}

// TestFrameEmptyBody 测试空帧体
func TestFrameEmptyBody(t *testing.T) {
	frame := BuildFrame(FrameTypeHeartbeat, nil)

	frameType, body, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("读帧失败: %v", err)
	}
	if frameType != FrameTypeHeartbeat {
		t.Errorf("期望帧类型 = %d, 实际 = %d", FrameTypeHeartbeat, frameType)
	}
	if len(body) != 0 {
		t.Errorf("期望空帧体, 实际长度 = %d", len(body))
	}
}

// TestFrameTruncated 测试截断帧
func TestFrameTruncated(t *testing.T) {
	frame := BuildFrame(FrameTypeRequest, []byte("hello"))

	// 只给一半数据
	_, _, err := ReadFrame(bytes.NewReader(frame[:FrameHeaderSize+2]))
	if err == nil {
		t.Error("期望截断帧报错")
	}
	if err != io.ErrUnexpectedEOF {
		t.Logf("截断错误类型: %v", err)
	}
}

// TestFrameTooLarge 测试超长帧拒绝
func TestFrameTooLarge(t *testing.T) {
	header := make([]byte, FrameHeaderSize)
	header[0] = 0xFF
	header[1] = 0xFF
	header[2] = 0xFF
	header[3] = 0xFF

	_, _, err := ReadFrame(bytes.NewReader(header))
	if err == nil {
		t.Error("期望超长帧被拒绝")
	}
}

// TestFrameMultiple 测试连续多帧读取
func TestFrameMultiple(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(BuildFrame(FrameTypeAuth, []byte("first")))
	buf.Write(BuildFrame(FrameTypeRequest, []byte("second")))

	frameType, body, err := ReadFrame(&buf)
	if err != nil || frameType != FrameTypeAuth || string(body) != "first" {
		t.Fatalf("第一帧读取错误: type=%d body=%s err=%v", frameType, body, err)
	}

	frameType, body, err = ReadFrame(&buf)
	if err != nil || frameType != FrameTypeRequest || string(body) != "second" {
		t.Fatalf("第二帧读取错误: type=%d body=%s err=%v", frameType, body, err)
	}
}
