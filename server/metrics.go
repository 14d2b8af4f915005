package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount      int64 // 统计的 Tick 次数
	Broadcasts     int64 // 全房广播次数
	RelayedFrames  int64 // 原样转发的高频帧数
	MalformedDrops int64 // 因坏包被丢弃的消息数
	ItemsSpawned   int64 // 放置成功的道具数
	ItemsCollected int64 // 被拾取的道具数
	OverlapRemoved int64 // 走重叠通道移除的道具数
	TotalTickNs    int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncBroadcast() { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *RoomMetrics) IncRelayed() { atomic.AddInt64(&m.RelayedFrames, 1) }
func (m *RoomMetrics) IncMalformed() { atomic.AddInt64(&m.MalformedDrops, 1) }
func (m *RoomMetrics) IncSpawned() { atomic.AddInt64(&m.ItemsSpawned, 1) }
func (m *RoomMetrics) IncCollected() { atomic.AddInt64(&m.ItemsCollected, 1) }
func (m *RoomMetrics) IncOverlapRemoved() { atomic.AddInt64(&m.OverlapRemoved, 1) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"broadcasts":      atomic.LoadInt64(&m.Broadcasts),
		"relayed_frames":  atomic.LoadInt64(&m.RelayedFrames),
		"malformed_drops": atomic.LoadInt64(&m.MalformedDrops),
		"items_spawned":   atomic.LoadInt64(&m.ItemsSpawned),
		"items_collected": atomic.LoadInt64(&m.ItemsCollected),
		"overlap_removed": atomic.LoadInt64(&m.OverlapRemoved),
		"avg_tick_ms":     avgMs,
	}
}
