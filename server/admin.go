package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleAdminConfig 提供房间道具参数的读取与更新（热更新基本规则）
// GET /admin/config?room=lobby  返回当前配置
// POST /admin/config?room=lobby 以 JSON 载荷更新部分字段
func (d *Directory) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = d.cfg.MasterRoomID
	}

	type cfg struct {
		ItemCap          *int     `json:"itemCap,omitempty"`
		ItemClearance    *float64 `json:"itemClearance,omitempty"`
		SpawnCooldownMs  *int     `json:"spawnCooldownMs,omitempty"`
		ReplenishEveryMs *int     `json:"replenishEveryMs,omitempty"`
		RespawnDelayMs   *int     `json:"respawnDelayMs,omitempty"`
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		if roomID != d.cfg.MasterRoomID {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		room = d.ensureMasterLocked()
	}
	ic := &room.items.cfg

	switch r.Method {
	case http.MethodGet:
		scMs := int(ic.SpawnCooldown / time.Millisecond)
		reMs := int(ic.ReplenishEvery / time.Millisecond)
		rdMs := int(ic.RespawnDelay / time.Millisecond)
		cur := cfg{
			ItemCap:          &ic.ItemCap,
			ItemClearance:    &ic.ItemClearance,
			SpawnCooldownMs:  &scMs,
			ReplenishEveryMs: &reMs,
			RespawnDelayMs:   &rdMs,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cur)
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.ItemCap != nil {
			ic.ItemCap = *body.ItemCap
		}
		if body.ItemClearance != nil {
			ic.ItemClearance = *body.ItemClearance
		}
		if body.SpawnCooldownMs != nil {
			ic.SpawnCooldown = time.Duration(*body.SpawnCooldownMs) * time.Millisecond
		}
		if body.ReplenishEveryMs != nil {
			ic.ReplenishEvery = time.Duration(*body.ReplenishEveryMs) * time.Millisecond
		}
		if body.RespawnDelayMs != nil {
			ic.RespawnDelay = time.Duration(*body.RespawnDelayMs) * time.Millisecond
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		Log.Infof("config updated: room=%s itemCap=%d clearance=%.1f cooldown=%v replenish=%v respawn=%v",
			roomID, ic.ItemCap, ic.ItemClearance, ic.SpawnCooldown, ic.ReplenishEvery, ic.RespawnDelay)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=lobby
func (d *Directory) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = d.cfg.MasterRoomID
	}
	d.mu.Lock()
	room, ok := d.rooms[roomID]
	var payload map[string]any
	if ok {
		payload = map[string]any{
			"room":    roomID,
			"members": len(room.Players),
			"items":   room.items.Count(),
			"metrics": room.metrics.Snapshot(),
		}
	}
	d.mu.Unlock()
	if payload == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
