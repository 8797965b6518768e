package client

import (
	"strings"
	"time"
)

// Placeholder 渲染层的"发送中"占位句柄，核心不解释其内容
type Placeholder any

type pendingEntry struct {
	placeholder Placeholder
	sentAt      time.Time
}

// PendingIndex 已发送、尚未被服务端回射的聊天消息索引。
// 协议没有关联 id，只能用规范化文本（小写+去首尾空白）做键；
// 同键重复发送时新条目覆盖旧句柄：每键至多一条，可取回的只有
// 最近一次未匹配的发送。这一粗化是协议层面的已知限制，不猜服务端意图。
// 与世界表一样由分发循环串行驱动，不加锁
type PendingIndex struct {
	entries map[string]pendingEntry
}

func NewPendingIndex() *PendingIndex {
	return &PendingIndex{entries: make(map[string]pendingEntry)}
}

// normalizeText 回射匹配用的规范化：小写 + 去首尾空白
func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Register 登记一条待回射消息并记录占位句柄；键冲突时静默覆盖
// （消息照常发出，只是旧占位不再可取回）
func (pi *PendingIndex) Register(text string, placeholder Placeholder, now time.Time) {
	pi.entries[normalizeText(text)] = pendingEntry{placeholder: placeholder, sentAt: now}
}

// Retire 按规范化文本取走并删除对应条目；没有匹配时返回 nil
// （从未登记、已被取走、或服务端改写过文本都会走到这里）
func (pi *PendingIndex) Retire(text string) Placeholder {
	key := normalizeText(text)
	e, ok := pi.entries[key]
	if !ok {
		return nil
	}
	delete(pi.entries, key)
	return e.placeholder
}

// EvictStale 清理登记时间早于 cutoff 的条目，返回被清理的句柄，
// 供渲染层收尾；回射永远不来时占位不能被无限钉住
func (pi *PendingIndex) EvictStale(cutoff time.Time) []Placeholder {
	var evicted []Placeholder
	for key, e := range pi.entries {
		if e.sentAt.Before(cutoff) {
			evicted = append(evicted, e.placeholder)
			delete(pi.entries, key)
		}
	}
	return evicted
}

// Len 当前待回射条目数
func (pi *PendingIndex) Len() int { return len(pi.entries) }
