package server

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Item 一个存活中的可拾取道具；创建后只会被整体移除，从不原地修改
type Item struct {
	ID        string    `json:"id" msgpack:"id"`
	Type      ItemType  `json:"type" msgpack:"type"`
	Pos       Vec3      `json:"position" msgpack:"position"`
	CreatedAt time.Time `json:"-" msgpack:"-"`
}

// OverlapCollector 重叠移除的归属标记（不是真实玩家）
const OverlapCollector = "server"

// ItemAuthority 房间道具的唯一裁决者：铺设、拾取、补位都在这里单线程完成
// 所有修改只发生在 Directory 锁内，计数 ≤ 容量的不变式由顺序执行天然保证
type ItemAuthority struct {
	room *Room
	cfg  Config

	items       map[string]*Item
	spawnPoints []*SpawnPoint

	lastReplenish time.Time
	tasks         *scheduler

	// respawn 由 Directory 注入：在锁内补一次道具并广播
	respawn func()

	// 时钟与随机源可注入，便于测试
	now func() time.Time
	rng *rand.Rand
}

func newItemAuthority(room *Room, cfg Config) *ItemAuthority {
	return &ItemAuthority{
		room:        room,
		cfg:         cfg,
		items:       make(map[string]*Item),
		spawnPoints: generateSpawnRing(cfg),
		tasks:       newScheduler(),
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Count 当前存活道具数
func (a *ItemAuthority) Count() int { return len(a.items) }

// Snapshot 返回道具只读副本列表（入房同步用）
func (a *ItemAuthority) Snapshot() []Item {
	out := make([]Item, 0, len(a.items))
	for _, it := range a.items {
		out = append(out, *it)
	}
	return out
}

// PrimeInitialSpawn 房间创建时一次性铺设初始道具
// 出生点都没用过，冷却过滤退化为"从未使用"
func (a *ItemAuthority) PrimeInitialSpawn() []*Item {
	placed := make([]*Item, 0, a.cfg.InitialItems)
	for i := 0; i < a.cfg.InitialItems; i++ {
		it := a.tryPlace(true)
		if it == nil {
			break // 没有可用点位就到此为止，不算错误
		}
		placed = append(placed, it)
	}
	a.lastReplenish = a.now()
	return placed
}

// TickSpawn 周期性补充：低于容量且冷却已过时尝试放置一个
// 无论成败都重置冷却时钟，避免失败后每 Tick 紧密重试
func (a *ItemAuthority) TickSpawn() *Item {
	if len(a.items) >= a.cfg.ItemCap {
		return nil
	}
	now := a.now()
	if now.Sub(a.lastReplenish) < a.cfg.ReplenishEvery {
		return nil
	}
	a.lastReplenish = now
	return a.tryPlace(false)
}

// Collect 原子拾取：存在则整体移除并返回，双人抢夺只会有一个赢家
// 成功后安排一次短延迟补位（先让拾取广播到达客户端）
func (a *ItemAuthority) Collect(itemID string) (*Item, error) {
	it, ok := a.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(a.items, itemID)
	a.room.metrics.IncCollected()
	a.scheduleRespawn()
	return it, nil
}

// RemoveOverlapping 客户端报告新广播的道具与本地已有道具视觉重叠时的
// 防御性移除通道；语义同拾取，归属记为服务端标记
// 兼容性通道：间距校验本应全在服务端完成
func (a *ItemAuthority) RemoveOverlapping(itemID string) (*Item, error) {
	it, ok := a.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(a.items, itemID)
	a.room.metrics.IncOverlapRemoved()
	a.scheduleRespawn()
	return it, nil
}

func (a *ItemAuthority) scheduleRespawn() {
	if a.respawn == nil {
		return
	}
	a.tasks.After(a.cfg.RespawnDelay, a.respawn)
}

// destroy 房间销毁时撤销全部未触发的补位任务
func (a *ItemAuthority) destroy() {
	a.tasks.CancelAll()
}

// tryPlace 放置算法：过滤可用出生点 → 间距剔除 → 随机挑选 → 权重定种类
// 没有幸存点位时静默失败（返回 nil），等下次再试
func (a *ItemAuthority) tryPlace(ignoreCooldown bool) *Item {
	if len(a.items) >= a.cfg.ItemCap {
		return nil
	}
	now := a.now()
	clearanceSq := a.cfg.ItemClearance * a.cfg.ItemClearance

	candidates := make([]*SpawnPoint, 0, len(a.spawnPoints))
	for _, sp := range a.spawnPoints {
		if ignoreCooldown {
			if !sp.LastUsed.IsZero() {
				continue
			}
		} else if !sp.LastUsed.IsZero() && now.Sub(sp.LastUsed) < a.cfg.SpawnCooldown {
			continue
		}
		if a.tooCloseToLiveItem(sp.Pos, clearanceSq) {
			continue
		}
		candidates = append(candidates, sp)
	}
	if len(candidates) == 0 {
		return nil
	}

	sp := candidates[a.rng.Intn(len(candidates))]
	sp.LastUsed = now

	it := &Item{
		ID:        uuid.NewString(),
		Type:      rollItemType(a.rng),
		Pos:       sp.Pos,
		CreatedAt: now,
	}
	a.items[it.ID] = it
	a.room.metrics.IncSpawned()
	return it
}

// tooCloseToLiveItem 平方距离比较，避免开方
func (a *ItemAuthority) tooCloseToLiveItem(pos Vec3, clearanceSq float64) bool {
	for _, it := range a.items {
		if pos.DistSq(it.Pos) < clearanceSq {
			return true
		}
	}
	return false
}
