package server

import (
	"fmt"
	"sync"
	"time"
)

// Directory 房间与成员关系的唯一事实来源
// 显式构造、显式注入，带清晰生命周期（NewDirectory / Shutdown），不做包级单例
// 所有房间/道具状态只在持有 mu 时改动：回调串行到底，不变式不靠细粒度锁
type Directory struct {
	mu  sync.Mutex
	cfg Config

	rooms    map[string]*Room
	byPlayer map[PlayerID]string // 玩家 → 所在房间（至多一个）

	handlers map[string]func(*ClientConn, Envelope, []byte)
	stop     chan struct{}
	wg       sync.WaitGroup

	// 时钟可注入，便于测试推进闲置判定
	now func() time.Time
}

// NewDirectory 构造房间目录
func NewDirectory(cfg Config) *Directory {
	d := &Directory{
		cfg:      cfg,
		rooms:    make(map[string]*Room),
		byPlayer: make(map[PlayerID]string),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	d.handlers = map[string]func(*ClientConn, Envelope, []byte){
		MsgJoin:          d.handleJoin,
		MsgCollect:       d.handleCollect,
		MsgRemoveOverlap: d.handleRemoveOverlap,
		MsgPos:           d.relayFrame,
		MsgThrow:         d.relayFrame,
		MsgShellHit:      d.relayFrame,
	}
	return d
}

// EnsureMasterRoom 幂等保证大厅存在；启动时调用，查不到时也会兜底重建
func (d *Directory) EnsureMasterRoom() *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureMasterLocked()
}

func (d *Directory) ensureMasterLocked() *Room {
	if r, ok := d.rooms[d.cfg.MasterRoomID]; ok {
		return r
	}
	// 大厅丢失即重建（自愈），可用性承诺是默认公开房永远在
	r := d.createRoomLocked(d.cfg.MasterRoomID)
	Log.Infof("master room %s created", r.ID)
	return r
}

// CreateRoom 显式建房；id 已占用报 AlreadyExists，可附带让创建者入房
func (d *Directory) CreateRoom(id string, creator *ClientConn, creatorName string) (*Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[id]; ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrAlreadyExists)
	}
	r := d.createRoomLocked(id)
	if creator != nil {
		if _, err := d.admitLocked(r, creator, creatorName); err != nil {
			// 创建者没进来就不留空房挂账
			d.destroyRoomLocked(r)
			return nil, err
		}
	}
	return r, nil
}

// createRoomLocked 建房并铺设初始道具
func (d *Directory) createRoomLocked(id string) *Room {
	r := newRoom(id, d.cfg, d.now())
	// 补位回调在锁内执行，房间没了就什么都不做
	r.items.respawn = func() { d.respawnRoom(id) }
	d.rooms[id] = r
	placed := r.items.PrimeInitialSpawn()
	Log.Infof("room %s created: %d initial items, public=%v", id, len(placed), r.IsPublic)
	return r
}

// Join 入房：不存在则按需建房；重复入同房只刷新显示名；
// 换房时先从旧房退出（至多一个房间成员关系）
// 成功后仅向新成员推送全量道具（一次性同步，不广播）
func (d *Directory) Join(c *ClientConn, roomID, name string) (*RoomJoined, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if roomID == "" || roomID == d.cfg.MasterRoomID {
		// 大厅查找永不失败：丢了就重建
		roomID = d.cfg.MasterRoomID
		d.ensureMasterLocked()
	}
	r, ok := d.rooms[roomID]
	if !ok {
		r = d.createRoomLocked(roomID)
	}

	now := d.now()
	if p, ok := r.Players[c.id]; ok {
		// 已是成员：只改名，不产生重复成员项
		p.Name = name
		p.Touch(now)
		r.Touch(now)
		return d.joinedSnapshotLocked(r, p), nil
	}

	return d.admitLocked(r, c, name)
}

// admitLocked 真正入房：容量校验 → 退出旧房 → 写入成员表 → 通知房间
func (d *Directory) admitLocked(r *Room, c *ClientConn, name string) (*RoomJoined, error) {
	if len(r.Players) >= d.cfg.RoomPlayerCap {
		return nil, fmt.Errorf("room %s: %w", r.ID, ErrCapacity)
	}
	if prev, ok := d.byPlayer[c.id]; ok && prev != r.ID {
		d.removeMemberLocked(prev, c.id)
	}

	now := d.now()
	p := &Player{ID: c.id, Name: name, JoinedAt: now, LastActive: now, Conn: c}
	r.Players[c.id] = p
	d.byPlayer[c.id] = r.ID
	r.Touch(now)

	if frame, err := Encode(MsgPeerJoined, PeerInfo{ID: string(c.id), Name: name}); err == nil {
		r.BroadcastExcept(c.id, frame)
	}
	Log.Infof("player %s (%s) joined room %s (%d members)", c.id, name, r.ID, len(r.Players))
	return d.joinedSnapshotLocked(r, p), nil
}

func (d *Directory) joinedSnapshotLocked(r *Room, you *Player) *RoomJoined {
	peers := make([]PeerInfo, 0, len(r.Players)-1)
	for id, p := range r.Players {
		if id == you.ID {
			continue
		}
		peers = append(peers, PeerInfo{ID: string(id), Name: p.Name})
	}
	return &RoomJoined{
		Room:    r.ID,
		You:     PeerInfo{ID: string(you.ID), Name: you.Name},
		Peers:   peers,
		Items:   r.items.Snapshot(),
		ItemCap: r.items.cfg.ItemCap,
	}
}

// Leave 移除成员关系；空的非大厅房间随之销毁
func (d *Directory) Leave(c *ClientConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	roomID, ok := d.byPlayer[c.id]
	if !ok {
		return
	}
	d.removeMemberLocked(roomID, c.id)
}

func (d *Directory) removeMemberLocked(roomID string, pid PlayerID) {
	r, ok := d.rooms[roomID]
	if !ok {
		delete(d.byPlayer, pid)
		return
	}
	delete(r.Players, pid)
	delete(d.byPlayer, pid)
	if frame, err := Encode(MsgPeerLeft, PeerInfo{ID: string(pid)}); err == nil {
		r.Broadcast(frame)
	}
	Log.Infof("player %s left room %s (%d members)", pid, roomID, len(r.Players))

	if len(r.Players) == 0 && !r.IsMaster {
		d.destroyRoomLocked(r)
	}
}

func (d *Directory) destroyRoomLocked(r *Room) {
	r.items.destroy()
	delete(d.rooms, r.ID)
	Log.Infof("room %s destroyed", r.ID)
}

// TickAll 短周期：给每个有人的房间一次补充机会，空房跳过
// 耗时按房间各记各的，被跳过的房间不计
func (d *Directory) TickAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if len(r.Players) == 0 {
			continue
		}
		start := d.now()
		if it := r.items.TickSpawn(); it != nil {
			d.broadcastItemLocked(r, it)
		}
		r.metrics.AddTick(d.now().Sub(start).Nanoseconds())
	}
}

// CleanupInactive 长周期：超过闲置阈值的非大厅房间强制清场
// 成员清空即触发房间销毁，大厅永不纳入
func (d *Directory) CleanupInactive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, r := range d.rooms {
		if r.IsMaster || now.Sub(r.LastActivity) < d.cfg.InactiveAfter {
			continue
		}
		Log.Infof("room %s inactive for %v, evicting %d members", id, now.Sub(r.LastActivity), len(r.Players))
		for pid, p := range r.Players {
			if p.Conn != nil {
				p.Conn.Close()
			}
			d.removeMemberLocked(id, pid)
		}
		// 本来就空的房间（无人可清）也要销毁
		if _, alive := d.rooms[id]; alive && len(r.Players) == 0 {
			d.destroyRoomLocked(r)
		}
	}
}

// respawnRoom 拾取/重叠移除后的短延迟补位；绕过补充冷却立即尝试一次
func (d *Directory) respawnRoom(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return
	}
	if it := r.items.tryPlace(false); it != nil {
		d.broadcastItemLocked(r, it)
	}
}

func (d *Directory) broadcastItemLocked(r *Room, it *Item) {
	frame, err := Encode(MsgItemSpawned, it)
	if err != nil {
		Log.Errorf("encode item-spawned: %v", err)
		return
	}
	r.Broadcast(frame)
}

// Shutdown 停掉周期任务并撤销全部房间的延时补位
func (d *Directory) Shutdown() {
	close(d.stop)
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		r.items.destroy()
	}
}
