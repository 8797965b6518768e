package client

import (
	"sync/atomic"
)

// SessionMetrics 记录会话运行期的关键指标（用于监控与调试）
type SessionMetrics struct {
	FramesIn       int64 // 收到的入站帧数
	ProtocolErrors int64 // 因标签/形状不合法被丢弃的帧数
	FramesSent     int64 // 成功入队的出站帧数
	SendsRefused   int64 // 非 Open 状态被拒绝的用户意图数
	ProbesSent     int64 // 发出的心跳探测数
	ProbeEchoes    int64 // 被识别并测得 RTT 的探测回射数
	ChatSent       int64 // 发出的聊天消息数
	PendingRetired int64 // 回射命中并撤下的占位数
	PendingEvicted int64 // 超时清理的占位数
	WorldUpdates   int64 // 改动世界表的入站消息数
	ServerErrors   int64 // 服务端 error 帧数
}

func (m *SessionMetrics) IncFramesIn()       { atomic.AddInt64(&m.FramesIn, 1) }
func (m *SessionMetrics) IncProtocolErrors() { atomic.AddInt64(&m.ProtocolErrors, 1) }
func (m *SessionMetrics) IncFramesSent()     { atomic.AddInt64(&m.FramesSent, 1) }
func (m *SessionMetrics) IncSendsRefused()   { atomic.AddInt64(&m.SendsRefused, 1) }
func (m *SessionMetrics) IncProbesSent()     { atomic.AddInt64(&m.ProbesSent, 1) }
func (m *SessionMetrics) IncProbeEchoes()    { atomic.AddInt64(&m.ProbeEchoes, 1) }
func (m *SessionMetrics) IncChatSent()       { atomic.AddInt64(&m.ChatSent, 1) }
func (m *SessionMetrics) IncPendingRetired() { atomic.AddInt64(&m.PendingRetired, 1) }
func (m *SessionMetrics) AddPendingEvicted(n int64) {
	atomic.AddInt64(&m.PendingEvicted, n)
}
func (m *SessionMetrics) IncWorldUpdates() { atomic.AddInt64(&m.WorldUpdates, 1) }
func (m *SessionMetrics) IncServerErrors() { atomic.AddInt64(&m.ServerErrors, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *SessionMetrics) Snapshot() map[string]any {
	return map[string]any{
		"frames_in":       atomic.LoadInt64(&m.FramesIn),
		"protocol_errors": atomic.LoadInt64(&m.ProtocolErrors),
		"frames_sent":     atomic.LoadInt64(&m.FramesSent),
		"sends_refused":   atomic.LoadInt64(&m.SendsRefused),
		"probes_sent":     atomic.LoadInt64(&m.ProbesSent),
		"probe_echoes":    atomic.LoadInt64(&m.ProbeEchoes),
		"chat_sent":       atomic.LoadInt64(&m.ChatSent),
		"pending_retired": atomic.LoadInt64(&m.PendingRetired),
		"pending_evicted": atomic.LoadInt64(&m.PendingEvicted),
		"world_updates":   atomic.LoadInt64(&m.WorldUpdates),
		"server_errors":   atomic.LoadInt64(&m.ServerErrors),
	}
}
