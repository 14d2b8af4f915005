package server

import (
	"errors"
	"testing"
	"time"
)

// fakeConn 不带真实 WebSocket 的连接；发送落入缓冲通道供断言
func fakeConn(id string) *ClientConn {
	return &ClientConn{send: make(chan []byte, 64), id: PlayerID(id)}
}

// drainFrames 解开缓冲里的全部信封
func drainFrames(t *testing.T, c *ClientConn) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case b := <-c.send:
			env, err := DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode broadcast frame: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func findFrame(envs []Envelope, typ string) (Envelope, bool) {
	for _, e := range envs {
		if e.T == typ {
			return e, true
		}
	}
	return Envelope{}, false
}

func newTestDirectory(cfg Config) *Directory {
	d := NewDirectory(cfg)
	d.EnsureMasterRoom()
	return d
}

func TestMasterRoomSelfHealing(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	if _, ok := d.rooms[cfg.MasterRoomID]; !ok {
		t.Fatal("master room missing after EnsureMasterRoom")
	}

	// 人为抹掉大厅：任何查找路径都应重建而非报错
	d.mu.Lock()
	delete(d.rooms, cfg.MasterRoomID)
	d.mu.Unlock()

	c := fakeConn("a")
	joined, err := d.Join(c, "", "Alice")
	if err != nil {
		t.Fatalf("join default room after master loss: %v", err)
	}
	if joined.Room != cfg.MasterRoomID {
		t.Fatalf("joined %q, want master %q", joined.Room, cfg.MasterRoomID)
	}
}

func TestMasterRoomSurvivesEmptinessAndSweep(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	c := fakeConn("a")
	if _, err := d.Join(c, "", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	d.Leave(c)
	if _, ok := d.rooms[cfg.MasterRoomID]; !ok {
		t.Fatal("master room destroyed by emptiness")
	}

	// 把大厅拨成长期闲置，清扫也不该碰它
	d.mu.Lock()
	d.rooms[cfg.MasterRoomID].LastActivity = time.Now().Add(-24 * time.Hour)
	d.mu.Unlock()
	d.CleanupInactive()
	if _, ok := d.rooms[cfg.MasterRoomID]; !ok {
		t.Fatal("master room destroyed by inactivity sweep")
	}
}

func TestJoinCreatesRoomOnDemandAndRejoinUpdatesName(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	c := fakeConn("a")
	joined, err := d.Join(c, "race-9", "Alice")
	if err != nil {
		t.Fatalf("join unseen room: %v", err)
	}
	if joined.Room != "race-9" {
		t.Fatalf("joined %q, want race-9", joined.Room)
	}
	if len(joined.Items) != cfg.InitialItems {
		t.Fatalf("one-time item sync carried %d items, want %d", len(joined.Items), cfg.InitialItems)
	}

	// 同连接重复入同房：只改名，不产生重复成员
	if _, err := d.Join(c, "race-9", "Alicia"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	r := d.rooms["race-9"]
	if len(r.Players) != 1 {
		t.Fatalf("membership size %d after rejoin, want 1", len(r.Players))
	}
	if r.Players[c.id].Name != "Alicia" {
		t.Fatalf("name %q, want Alicia", r.Players[c.id].Name)
	}
}

func TestSingleRoomMembership(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	c := fakeConn("a")
	if _, err := d.Join(c, "race-1", "Alice"); err != nil {
		t.Fatalf("join race-1: %v", err)
	}
	if _, err := d.Join(c, "race-2", "Alice"); err != nil {
		t.Fatalf("join race-2: %v", err)
	}
	if _, ok := d.rooms["race-1"]; ok {
		t.Fatal("race-1 should be destroyed once its only member moved away")
	}
	if got := d.byPlayer[c.id]; got != "race-2" {
		t.Fatalf("player tracked in %q, want race-2", got)
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	if _, err := d.CreateRoom("race-1", nil, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := d.CreateRoom("race-1", nil, "")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrAlreadyExists", err)
	}
}

func TestPublicPrefixFlagsRoom(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	pub, err := d.CreateRoom("pub-sprint", nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !pub.IsPublic {
		t.Error("pub- prefixed room should be public")
	}
	priv, err := d.CreateRoom("race-1", nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if priv.IsPublic {
		t.Error("race-1 should not be public")
	}
}

// 创建者被拒时不留无人空房挂账
func TestCreateRoomRollsBackWhenCreatorRejected(t *testing.T) {
	cfg := testConfig()
	cfg.RoomPlayerCap = 0
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	_, err := d.CreateRoom("race-1", fakeConn("conn-a"), "Alice")
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("create with rejected creator: got %v, want ErrCapacity", err)
	}
	if _, ok := d.rooms["race-1"]; ok {
		t.Fatal("room left registered although its creator was rejected")
	}
}

// Tick 耗时只记给真正被推进的房间，被跳过的空房不背账
func TestTickAllCountsOnlyOccupiedRooms(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	if _, err := d.Join(fakeConn("conn-a"), "race-1", "A"); err != nil {
		t.Fatalf("join: %v", err)
	}
	d.TickAll()

	if got := d.rooms["race-1"].metrics.TickCount; got != 1 {
		t.Fatalf("occupied room tick count %d, want 1", got)
	}
	// 大厅无人，应被跳过且不计耗时
	if got := d.rooms[cfg.MasterRoomID].metrics.TickCount; got != 0 {
		t.Fatalf("empty master room tick count %d, want 0", got)
	}
}

// 入房被拒要给请求方一个类型化错误回执，而不是沉默
func TestJoinRejectionRepliesTypedError(t *testing.T) {
	cfg := testConfig()
	cfg.RoomPlayerCap = 1
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	if _, err := d.Join(fakeConn("conn-a"), "race-1", "A"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	b := fakeConn("conn-b")
	frame, err := Encode(MsgJoin, JoinRequest{Room: "race-1", Name: "B"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(b, frame)

	env, ok := findFrame(drainFrames(t, b), MsgError)
	if !ok {
		t.Fatal("rejected join produced no error reply")
	}
	reply, err := DecodePayload[ErrorReply](env)
	if err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if reply.Op != MsgJoin || reply.Code != "capacity" {
		t.Fatalf("bad error reply: %+v", reply)
	}
}

func TestRoomCapacityRejected(t *testing.T) {
	cfg := testConfig()
	cfg.RoomPlayerCap = 2
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	for i, id := range []string{"a", "b"} {
		if _, err := d.Join(fakeConn(id), "race-1", "P"); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	_, err := d.Join(fakeConn("c"), "race-1", "P")
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("third join: got %v, want ErrCapacity", err)
	}
}

func TestTwoClientsSameDisplayName(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	a, b := fakeConn("conn-a"), fakeConn("conn-b")
	ja, err := d.Join(a, "race-1", "Speedy")
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	jb, err := d.Join(b, "race-1", "Speedy")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if len(d.rooms["race-1"].Players) != 2 {
		t.Fatalf("membership size %d, want 2", len(d.rooms["race-1"].Players))
	}
	if ja.You.ID == jb.You.ID {
		t.Fatal("both clients resolved to the same connection identity")
	}
}

func TestCleanupInactiveEvictsAndDestroys(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	c := fakeConn("a")
	if _, err := d.Join(c, "race-1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	d.mu.Lock()
	d.rooms["race-1"].LastActivity = time.Now().Add(-2 * cfg.InactiveAfter)
	d.mu.Unlock()

	d.CleanupInactive()
	if _, ok := d.rooms["race-1"]; ok {
		t.Fatal("inactive room should be destroyed after eviction")
	}
	if _, ok := d.byPlayer[c.id]; ok {
		t.Fatal("evicted player still tracked")
	}
}

func TestPositionRelayVerbatim(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	a, b := fakeConn("conn-a"), fakeConn("conn-b")
	if _, err := d.Join(a, "race-1", "A"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := d.Join(b, "race-1", "B"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	drainFrames(t, a)
	drainFrames(t, b)

	frame, err := Encode(MsgPos, PosUpdate{ID: "conn-a", Pos: Vec3{X: 1, Y: 0, Z: 2}, Heading: 1.5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(a, frame)

	if got := drainFrames(t, a); len(got) != 0 {
		t.Fatalf("sender received its own relay: %d frames", len(got))
	}
	select {
	case relayed := <-b.send:
		if string(relayed) != string(frame) {
			t.Fatal("relayed frame is not byte-identical to the original")
		}
	default:
		t.Fatal("room-mate received nothing")
	}
}

func TestDispatchDropsMalformedAndUnknown(t *testing.T) {
	d := newTestDirectory(testConfig())
	defer d.Shutdown()

	a := fakeConn("conn-a")
	if _, err := d.Join(a, "race-1", "A"); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainFrames(t, a)

	// 坏包与未知类型：丢弃即可，绝不恐慌
	d.Dispatch(a, []byte{0xc1, 0xff, 0x00})
	d.Dispatch(a, []byte("definitely not a frame"))
	unknown, _ := Encode("no-such-type", struct{}{})
	d.Dispatch(a, unknown)

	if got := drainFrames(t, a); len(got) != 0 {
		t.Fatalf("malformed input produced %d frames", len(got))
	}
	if n := d.rooms["race-1"].metrics.MalformedDrops; n != 3 {
		t.Fatalf("malformed counter %d, want 3", n)
	}
}

// 端到端：建房 → 入房同步 10 个道具 → 拾取 → 广播 → 短延迟内补位
func TestCollectBroadcastAndScheduledRespawn(t *testing.T) {
	cfg := testConfig()
	cfg.RespawnDelay = 20 * time.Millisecond
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	a := fakeConn("conn-a")
	joined, err := d.Join(a, "race-7", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined.Items) != cfg.InitialItems {
		t.Fatalf("initial sync %d items, want %d", len(joined.Items), cfg.InitialItems)
	}
	target := joined.Items[0].ID

	frame, err := Encode(MsgCollect, CollectRequest{ItemID: target})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(a, frame)

	envs := drainFrames(t, a)
	env, ok := findFrame(envs, MsgItemCollected)
	if !ok {
		t.Fatal("no item-collected broadcast observed")
	}
	collected, err := DecodePayload[ItemCollected](env)
	if err != nil {
		t.Fatalf("decode item-collected: %v", err)
	}
	if collected.ItemID != target || collected.CollectedBy != "conn-a" {
		t.Fatalf("bad collection payload: %+v", collected)
	}

	// 等补位任务触发
	time.Sleep(5 * cfg.RespawnDelay)
	envs = drainFrames(t, a)
	env, ok = findFrame(envs, MsgItemSpawned)
	if !ok {
		t.Fatal("no replenishment spawn within the scheduled delay")
	}
	spawned, err := DecodePayload[Item](env)
	if err != nil {
		t.Fatalf("decode item-spawned: %v", err)
	}

	// 新道具与所有仍存活道具满足间距
	d.mu.Lock()
	live := d.rooms["race-7"].items.Snapshot()
	d.mu.Unlock()
	clearanceSq := cfg.ItemClearance * cfg.ItemClearance
	for _, it := range live {
		if it.ID == spawned.ID {
			continue
		}
		if it.Pos.DistSq(spawned.Pos) < clearanceSq {
			t.Fatalf("replenished item %s too close to %s", spawned.ID, it.ID)
		}
	}
}

// 重叠移除：归属为服务端标记，同样触发补位
func TestOverlapRemovalAttributedToServer(t *testing.T) {
	cfg := testConfig()
	d := newTestDirectory(cfg)
	defer d.Shutdown()

	a := fakeConn("conn-a")
	joined, err := d.Join(a, "race-8", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	target := joined.Items[0].ID

	frame, _ := Encode(MsgRemoveOverlap, CollectRequest{ItemID: target})
	d.Dispatch(a, frame)

	env, ok := findFrame(drainFrames(t, a), MsgItemCollected)
	if !ok {
		t.Fatal("no removal broadcast observed")
	}
	collected, err := DecodePayload[ItemCollected](env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if collected.CollectedBy != OverlapCollector {
		t.Fatalf("collectedBy=%q, want server marker %q", collected.CollectedBy, OverlapCollector)
	}
}
