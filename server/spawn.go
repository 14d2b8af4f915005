package server

import (
	"math"
	"math/rand"
	"time"
)

// SpawnPoint 候选出生点：固定坐标 + 最近一次被使用的时间
// lastUsed 只会单调推后
type SpawnPoint struct {
	Pos      Vec3
	LastUsed time.Time
}

// generateSpawnRing 按角度分段 × 半径档位生成一圈固定出生点
// 每个房间创建时生成一次，之后只更新 lastUsed
func generateSpawnRing(cfg Config) []*SpawnPoint {
	points := make([]*SpawnPoint, 0, cfg.SpawnRingSegs*len(cfg.SpawnRingRadii))
	for seg := 0; seg < cfg.SpawnRingSegs; seg++ {
		angle := 2 * math.Pi * float64(seg) / float64(cfg.SpawnRingSegs)
		for _, radius := range cfg.SpawnRingRadii {
			points = append(points, &SpawnPoint{
				Pos: Vec3{
					X: math.Cos(angle) * radius,
					Y: cfg.SpawnRingCenterY,
					Z: math.Sin(angle) * radius,
				},
			})
		}
	}
	return points
}

// ItemType 道具种类
type ItemType string

const (
	ItemSpeedBoost ItemType = "speedBoost"
	ItemBanana     ItemType = "banana"
	ItemShell      ItemType = "shell"
)

// 权重抽取表：加速和香蕉常见，攻击性的龟壳刻意稀有
var itemTypeWeights = []struct {
	t ItemType
	w int
}{
	{ItemSpeedBoost, 4},
	{ItemBanana, 4},
	{ItemShell, 2},
}

// rollItemType 按固定权重抽取道具种类
func rollItemType(rng *rand.Rand) ItemType {
	total := 0
	for _, e := range itemTypeWeights {
		total += e.w
	}
	n := rng.Intn(total)
	for _, e := range itemTypeWeights {
		if n < e.w {
			return e.t
		}
		n -= e.w
	}
	return itemTypeWeights[len(itemTypeWeights)-1].t
}
