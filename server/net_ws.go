package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	id PlayerID

	mu     sync.Mutex
	closed bool
}

func NewClientConn(ws *websocket.Conn, id PlayerID) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
		id:   id,
	}
}

// ID 连接身份，即玩家标识
func (c *ClientConn) ID() PlayerID { return c.id }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃；已关闭则直接丢弃）
func (c *ClientConn) Enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃旧消息（防止阻塞房间逻辑）
	}
}

// Close 关闭发送队列与底层连接，结束写协程；幂等
func (c *ClientConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS
// 信封帧是 msgpack，统一走二进制消息
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
}

// readPump 读取客户端帧并交给目录按类型分发
func (c *ClientConn) readPump(dir *Directory) {
	// 读泵退出即断线：先移除成员关系（空房随之销毁），再关闭发送队列结束写协程
	defer c.Close()
	defer dir.Leave(c)
	c.ws.SetReadLimit(1 << 20) // 1MB
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		dir.Dispatch(c, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?player=alice（缺省则分配随机身份）
// 入房通过 join-room 消息完成，连接建立时尚不属于任何房间
func (d *Directory) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		playerID = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	client := NewClientConn(ws, PlayerID(playerID))

	go client.writePump()
	go client.readPump(d)
}
