package server

import "time"

// StartLoops 启动两个周期活动：短周期补道具、长周期清闲置房
// 两者都在目录锁内逐房串行执行，与消息处理互不交错
func (d *Directory) StartLoops() {
	d.wg.Add(2)
	go d.runLoop(d.cfg.TickInterval, d.TickAll)
	go d.runLoop(d.cfg.SweepInterval, d.CleanupInactive)
}

func (d *Directory) runLoop(every time.Duration, fn func()) {
	defer d.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-d.stop:
			return
		}
	}
}
