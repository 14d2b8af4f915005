package server

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 汇总服务端可调参数；启动时读取，之后通过 /admin/config 热更新
type Config struct {
	MasterRoomID string // 常驻大厅房间的固定 ID
	PublicPrefix string // 带此前缀的房间视为公开房

	RoomPlayerCap int // 单房间最大玩家数

	ItemCap          int           // 单房间同时存在的道具上限
	InitialItems     int           // 房间创建时铺设的初始道具数
	ItemClearance    float64       // 两个同时存活道具间的最小间距
	SpawnCooldown    time.Duration // 单个出生点的复用冷却
	ReplenishEvery   time.Duration // 补充道具的最短间隔
	RespawnDelay     time.Duration // 道具被拾取后补位的短延迟
	TickInterval     time.Duration // 全局补充 Tick 周期
	SweepInterval    time.Duration // 闲置房间清扫周期
	InactiveAfter    time.Duration // 房间判定为闲置的阈值
	SpawnRingSegs    int           // 出生点环的角度分段数
	SpawnRingRadii   []float64     // 出生点环的半径档位
	SpawnRingCenterY float64       // 出生点的垂直高度（赛道平面）
}

// DefaultConfig 返回内置默认值
func DefaultConfig() Config {
	return Config{
		MasterRoomID:     "lobby",
		PublicPrefix:     "pub-",
		RoomPlayerCap:    8,
		ItemCap:          12,
		InitialItems:     10,
		ItemClearance:    6,
		SpawnCooldown:    15 * time.Second,
		ReplenishEvery:   3 * time.Second,
		RespawnDelay:     700 * time.Millisecond,
		TickInterval:     time.Second,
		SweepInterval:    60 * time.Second,
		InactiveAfter:    10 * time.Minute,
		SpawnRingSegs:    8,
		SpawnRingRadii:   []float64{18, 26, 34},
		SpawnRingCenterY: 0,
	}
}

// LoadConfig 在默认值之上叠加环境变量（可选 .env 文件）
// 仅覆盖解析成功的项，解析失败保持默认并记录日志
func LoadConfig(envFile string) Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			Log.Warnf("load env file %s: %v", envFile, err)
		}
	}
	cfg := DefaultConfig()
	if v := os.Getenv("KARTSYNC_MASTER_ROOM"); v != "" {
		cfg.MasterRoomID = v
	}
	if v := os.Getenv("KARTSYNC_PUBLIC_PREFIX"); v != "" {
		cfg.PublicPrefix = v
	}
	overrideInt(&cfg.RoomPlayerCap, "KARTSYNC_ROOM_PLAYER_CAP")
	overrideInt(&cfg.ItemCap, "KARTSYNC_ITEM_CAP")
	overrideInt(&cfg.InitialItems, "KARTSYNC_INITIAL_ITEMS")
	overrideFloat(&cfg.ItemClearance, "KARTSYNC_ITEM_CLEARANCE")
	overrideDur(&cfg.SpawnCooldown, "KARTSYNC_SPAWN_COOLDOWN")
	overrideDur(&cfg.ReplenishEvery, "KARTSYNC_REPLENISH_EVERY")
	overrideDur(&cfg.RespawnDelay, "KARTSYNC_RESPAWN_DELAY")
	overrideDur(&cfg.TickInterval, "KARTSYNC_TICK_INTERVAL")
	overrideDur(&cfg.SweepInterval, "KARTSYNC_SWEEP_INTERVAL")
	overrideDur(&cfg.InactiveAfter, "KARTSYNC_INACTIVE_AFTER")
	return cfg
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			Log.Warnf("bad %s=%q: %v", key, v, err)
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			Log.Warnf("bad %s=%q: %v", key, v, err)
		}
	}
}

func overrideDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			Log.Warnf("bad %s=%q: %v", key, v, err)
		}
	}
}
