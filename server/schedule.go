package server

import (
	"sync"
	"time"
)

// scheduler 归属明确的一次性延时任务集合
// 房间销毁时 CancelAll，不留悬挂定时器去闭包改已删除的状态
type scheduler struct {
	mu     sync.Mutex
	seq    int
	timers map[int]*time.Timer
	closed bool
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[int]*time.Timer)}
}

// After 注册一次性任务；所有者被关闭后注册直接丢弃
func (s *scheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	id := s.seq
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		dead := s.closed
		s.mu.Unlock()
		if !dead {
			fn()
		}
	})
}

// CancelAll 停掉全部未触发任务并拒绝后续注册
func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
