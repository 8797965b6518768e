package client

import (
	"errors"
	"fmt"
)

// 会话核心的错误分类：
//   - ErrNotConnected  用户意图在非 Open 状态下发出（可恢复，调用方决定是否提示）
//   - ErrInvalidState  API 误用，如重复 connect（可恢复）
//   - ProtocolError    入站帧不合法（丢弃帧并记日志，绝不中断会话）
//   - TransportError   底层通道故障（会话进入 Errored/Closed，不自动重连）
var (
	ErrNotConnected = errors.New("not connected")
	ErrInvalidState = errors.New("invalid connection state")

	errSendQueueFull = errors.New("send queue full")
)

// ProtocolError 表示无法识别或字段不符的入站帧
type ProtocolError struct {
	Tag    string // 帧的 type 标签；无法解析时为空
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error: tag %q: %s", e.Tag, e.Reason)
}

// TransportError 包装底层 WebSocket 故障，保留关闭码便于诊断
type TransportError struct {
	Code   int // WebSocket 关闭码；非关闭类故障为 0
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport closed: code=%d reason=%q", e.Code, e.Reason)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
