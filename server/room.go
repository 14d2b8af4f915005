package server

import (
	"strings"
	"time"
)

// Room 一局比赛的隔离会话：成员表与道具集都只归这里的单线程逻辑改动
// 成员表只由 Directory 改动，其他组件拿不到可变引用
type Room struct {
	ID string

	Players map[PlayerID]*Player

	CreatedAt    time.Time
	LastActivity time.Time
	IsPublic     bool
	IsMaster     bool // 全局至多一个，永不删除

	items   *ItemAuthority
	metrics *RoomMetrics
}

// newRoom 创建房间并生成其专属的道具权威
func newRoom(id string, cfg Config, now time.Time) *Room {
	r := &Room{
		ID:           id,
		Players:      make(map[PlayerID]*Player),
		CreatedAt:    now,
		LastActivity: now,
		IsPublic:     id == cfg.MasterRoomID || (cfg.PublicPrefix != "" && strings.HasPrefix(id, cfg.PublicPrefix)),
		IsMaster:     id == cfg.MasterRoomID,
		metrics:      &RoomMetrics{},
	}
	r.items = newItemAuthority(r, cfg)
	return r
}

// Touch 刷新房间活跃时间戳
func (r *Room) Touch(now time.Time) {
	r.LastActivity = now
}

// Broadcast 向房间内全部成员发送一帧已编码数据（非阻塞入队）
func (r *Room) Broadcast(frame []byte) {
	for _, p := range r.Players {
		if p.Conn != nil {
			p.Conn.Enqueue(frame)
		}
	}
	r.metrics.IncBroadcast()
}

// BroadcastExcept 原样转发给除 except 外的所有成员
// 位置类高频包走这里：不解码重编码，字节原样上路
func (r *Room) BroadcastExcept(except PlayerID, frame []byte) {
	for id, p := range r.Players {
		if id == except || p.Conn == nil {
			continue
		}
		p.Conn.Enqueue(frame)
	}
	r.metrics.IncRelayed()
}
