package server

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// 消息类型：每个入站类型恰好对应一个处理器
const (
	MsgJoin          = "join-room"
	MsgRoomJoined    = "room-joined"
	MsgItemSpawned   = "item-spawned"
	MsgItemCollected = "item-collected"
	MsgCollect       = "collect-item"
	MsgRemoveOverlap = "remove-overlap"
	MsgPos           = "pos"
	MsgThrow         = "throw"
	MsgShellHit      = "shell-hit"
	MsgPeerJoined    = "peer-joined"
	MsgPeerLeft      = "peer-left"
	MsgError         = "error"
)

// Envelope 自描述信封：类型字段 + 未解开的负载
// 高频包用 msgpack 二进制；textual 标记 JSON 文本回退路径
type Envelope struct {
	T string             `msgpack:"t" json:"t"`
	P msgpack.RawMessage `msgpack:"p" json:"p"`

	textual bool
}

// jsonEnvelope JSON 回退时的信封形状
type jsonEnvelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"`
}

// Encode 负载 → msgpack 信封帧
func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: %w: empty type", ErrMalformed)
	}
	pb, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return msgpack.Marshal(Envelope{T: t, P: pb})
}

// DecodeEnvelope 尽力而为解码：先二进制，失败再按 JSON 文本回退
// 只解到信封层，负载原样保留——转发路径据此免去解码重编码
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode: %w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err == nil && env.T != "" {
		return env, nil
	}
	var je jsonEnvelope
	if err := json.Unmarshal(b, &je); err == nil && je.T != "" {
		return Envelope{T: je.T, P: msgpack.RawMessage(je.P), textual: true}, nil
	}
	return Envelope{}, fmt.Errorf("decode: %w", ErrMalformed)
}

// DecodePayload 将信封内负载解为具体类型；坏负载返回零值 + Malformed
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("decode %s: %w: empty payload", env.T, ErrMalformed)
	}
	var err error
	if env.textual {
		err = json.Unmarshal(env.P, &out)
	} else {
		err = msgpack.Unmarshal(env.P, &out)
	}
	if err != nil {
		return out, fmt.Errorf("decode %s: %w: %v", env.T, ErrMalformed, err)
	}
	return out, nil
}

// ErrorReply 请求被拒时只回给请求方的类型化错误
// 客户端据此区分"房间满了"与单纯丢包
type ErrorReply struct {
	Op     string `msgpack:"op" json:"op"`
	Code   string `msgpack:"code" json:"code"`
	Reason string `msgpack:"reason" json:"reason"`
}

// JoinRequest 入房请求；Room 为空默认进大厅
type JoinRequest struct {
	Room string `msgpack:"room" json:"room"`
	Name string `msgpack:"name" json:"name"`
}

// PeerInfo 成员摘要
type PeerInfo struct {
	ID   string `msgpack:"id" json:"id"`
	Name string `msgpack:"name" json:"name"`
}

// RoomJoined 入房回执：成员信息 + 当前全量道具（仅发给新成员，一次性同步）
type RoomJoined struct {
	Room    string     `msgpack:"room" json:"room"`
	You     PeerInfo   `msgpack:"you" json:"you"`
	Peers   []PeerInfo `msgpack:"peers" json:"peers"`
	Items   []Item     `msgpack:"items" json:"items"`
	ItemCap int        `msgpack:"itemCap" json:"itemCap"`
}

// ItemCollected 拾取广播：collectedBy 可能是重叠移除的服务端标记
type ItemCollected struct {
	ItemID      string `msgpack:"itemId" json:"itemId"`
	CollectedBy string `msgpack:"collectedBy" json:"collectedBy"`
}

// CollectRequest 客户端声明拾取某道具
type CollectRequest struct {
	ItemID string `msgpack:"itemId" json:"itemId"`
}

// PosUpdate 高频位置/朝向帧；服务端只转发，不重算
type PosUpdate struct {
	ID      string  `msgpack:"id" json:"id"`
	Pos     Vec3    `msgpack:"position" json:"position"`
	Heading float64 `msgpack:"heading" json:"heading"`
}

// ThrowEvent 投掷物出手事件（香蕉/龟壳）
type ThrowEvent struct {
	Kind     ItemType `msgpack:"kind" json:"kind"`
	Origin   Vec3     `msgpack:"origin" json:"origin"`
	Heading  float64  `msgpack:"heading" json:"heading"`
	Velocity Vec3     `msgpack:"velocity" json:"velocity"`
}

// ShellCollision 龟壳命中事件
type ShellCollision struct {
	Pos     Vec3   `msgpack:"position" json:"position"`
	Hit     string `msgpack:"hit" json:"hit"`
	Thrower string `msgpack:"thrower" json:"thrower"`
}
