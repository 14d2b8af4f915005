package server

import "errors"

// Dispatch 按消息类型路由到唯一处理器
// 未知类型与坏负载一律记日志后丢弃，绝不让异常拆掉连接或房间
func (d *Directory) Dispatch(c *ClientConn, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		d.countMalformed(c)
		Log.Debugf("drop frame from %s: %v", c.id, err)
		return
	}
	h, ok := d.handlers[env.T]
	if !ok {
		d.countMalformed(c)
		Log.Debugf("drop unknown type %q from %s", env.T, c.id)
		return
	}
	h(c, env, frame)
}

func (d *Directory) countMalformed(c *ClientConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if roomID, ok := d.byPlayer[c.id]; ok {
		if r, ok := d.rooms[roomID]; ok {
			r.metrics.IncMalformed()
		}
	}
}

// handleJoin 入房（房间缺省进大厅）；回执含成员信息与全量道具
func (d *Directory) handleJoin(c *ClientConn, env Envelope, _ []byte) {
	req, err := DecodePayload[JoinRequest](env)
	if err != nil {
		Log.Debugf("drop join from %s: %v", c.id, err)
		return
	}
	joined, err := d.Join(c, req.Room, req.Name)
	if err != nil {
		// 满员等拒绝以类型化错误回给请求方，不影响房间
		Log.Infof("join rejected for %s: %v", c.id, err)
		if frame, encErr := Encode(MsgError, ErrorReply{Op: MsgJoin, Code: errorCode(err), Reason: err.Error()}); encErr == nil {
			c.Enqueue(frame)
		}
		return
	}
	if frame, err := Encode(MsgRoomJoined, joined); err == nil {
		c.Enqueue(frame)
	}
}

// handleCollect 拾取裁决：同一道具的并发拾取恰有一个赢家
func (d *Directory) handleCollect(c *ClientConn, env Envelope, _ []byte) {
	req, err := DecodePayload[CollectRequest](env)
	if err != nil {
		Log.Debugf("drop collect from %s: %v", c.id, err)
		return
	}
	d.adjudicateRemoval(c, req.ItemID, string(c.id))
}

// handleRemoveOverlap 客户端报告视觉重叠的兼容通道；归属记服务端标记
func (d *Directory) handleRemoveOverlap(c *ClientConn, env Envelope, _ []byte) {
	req, err := DecodePayload[CollectRequest](env)
	if err != nil {
		Log.Debugf("drop remove-overlap from %s: %v", c.id, err)
		return
	}
	d.adjudicateRemoval(c, req.ItemID, OverlapCollector)
}

func (d *Directory) adjudicateRemoval(c *ClientConn, itemID, collectedBy string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.roomOfLocked(c)
	if r == nil {
		return
	}
	var err error
	if collectedBy == OverlapCollector {
		_, err = r.items.RemoveOverlapping(itemID)
	} else {
		_, err = r.items.Collect(itemID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// 输掉竞态的一方：道具已被别人拿走，静默即可
			Log.Debugf("item %s already gone (asked by %s)", itemID, c.id)
		}
		return
	}
	r.Touch(d.now())
	frame, err := Encode(MsgItemCollected, ItemCollected{ItemID: itemID, CollectedBy: collectedBy})
	if err != nil {
		Log.Errorf("encode item-collected: %v", err)
		return
	}
	r.Broadcast(frame)
}

// relayFrame 位置/投掷/命中类高频包的转发路径
// 不解码负载：原字节直达同房其他成员，只顺带刷新活跃时间
func (d *Directory) relayFrame(c *ClientConn, _ Envelope, frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.roomOfLocked(c)
	if r == nil {
		return
	}
	now := d.now()
	if p, ok := r.Players[c.id]; ok {
		p.Touch(now)
	}
	r.Touch(now)
	r.BroadcastExcept(c.id, frame)
}

func (d *Directory) roomOfLocked(c *ClientConn) *Room {
	roomID, ok := d.byPlayer[c.id]
	if !ok {
		return nil
	}
	return d.rooms[roomID]
}
