package server

import "time"

// PlayerID 表示玩家唯一标识（与连接身份一一对应）
type PlayerID string

// Player 房间内的成员（服务端权威状态）
// 位置与速度不在这里：服务端只转发移动数据，从不重算
type Player struct {
	ID         PlayerID
	Name       string // 显示名，可原地更新
	JoinedAt   time.Time
	LastActive time.Time

	Conn *ClientConn // 网络连接的发送端（写协程）
}

// Touch 刷新活跃时间戳
func (p *Player) Touch(now time.Time) {
	p.LastActive = now
}
