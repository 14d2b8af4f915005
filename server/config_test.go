package server

import (
	"testing"
	"time"
)

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("KARTSYNC_ITEM_CAP", "20")
	t.Setenv("KARTSYNC_RESPAWN_DELAY", "250ms")
	t.Setenv("KARTSYNC_MASTER_ROOM", "grand-prix")
	// 解析失败的项保持默认
	t.Setenv("KARTSYNC_ROOM_PLAYER_CAP", "not-a-number")

	cfg := LoadConfig("")
	if cfg.ItemCap != 20 {
		t.Errorf("ItemCap=%d, want 20", cfg.ItemCap)
	}
	if cfg.RespawnDelay != 250*time.Millisecond {
		t.Errorf("RespawnDelay=%v, want 250ms", cfg.RespawnDelay)
	}
	if cfg.MasterRoomID != "grand-prix" {
		t.Errorf("MasterRoomID=%q, want grand-prix", cfg.MasterRoomID)
	}
	if cfg.RoomPlayerCap != DefaultConfig().RoomPlayerCap {
		t.Errorf("RoomPlayerCap=%d, want default on parse failure", cfg.RoomPlayerCap)
	}
}
