// Package reconcile 把某个远端载具离散到达的网络快照流，
// 还原成逐帧连续的平滑位置/朝向（插值 + 预测 + 丢包自适应）。
// 本地自己的车不经过这里：本地车由本地物理权威驱动。
package reconcile

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Vec3 客户端渲染坐标；与服务端唯一的契约是快照的形状
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Len() }

func lerp(a, b Vec3, t float64) Vec3 {
	return Vec3{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t, a.Z + (b.Z-a.Z)*t}
}

// lerpAngle 沿较短的角度方向插值，绝不绕远路过圆
func lerpAngle(a, b, t float64) float64 {
	d := math.Mod(b-a+3*math.Pi, 2*math.Pi) - math.Pi
	return a + d*t
}

// Snapshot 一个远端载具的一次离散位置更新
// At 由接收方收到时打戳，不信任发送方时钟（避免时钟偏差依赖）
type Snapshot struct {
	Pos     Vec3
	Heading float64
	At      time.Time
}

// Config 平滑参数；零值字段取默认
type Config struct {
	BaseBlend      float64       // 速度 EMA 基础权重
	TurnBlend      float64       // 方向突变时的加速权重
	TurnDotThresh  float64       // 判定"真机动"的方向点积阈值
	BaseInterp     time.Duration // 基础插值窗口
	BasePrediction float64       // 基础预测强度
	MaxPrediction  float64       // 丢包升压后的预测强度上限
	TeleportDist   float64       // 超过此距离直接瞬移，不再滑行
	AccelDist      float64       // 中等跳变的插值加速门限
	Window         int           // 到达间隔滚动窗口长度
	RecalEvery     int           // 每收多少个快照重算一次参数
}

func (c *Config) fill() {
	if c.BaseBlend == 0 {
		c.BaseBlend = 0.3
	}
	if c.TurnBlend == 0 {
		c.TurnBlend = 0.85
	}
	if c.TurnDotThresh == 0 {
		c.TurnDotThresh = 0.2
	}
	if c.BaseInterp == 0 {
		c.BaseInterp = 120 * time.Millisecond
	}
	if c.BasePrediction == 0 {
		c.BasePrediction = 0.6
	}
	if c.MaxPrediction == 0 {
		c.MaxPrediction = 1.2
	}
	if c.TeleportDist == 0 {
		c.TeleportDist = 40
	}
	if c.AccelDist == 0 {
		c.AccelDist = 10
	}
	if c.Window == 0 {
		c.Window = 10
	}
	if c.RecalEvery == 0 {
		c.RecalEvery = 20
	}
}

// Reconciler 单个远端载具的状态调和器；载具离场时整个实例一起丢弃
// 只在渲染循环里使用，不做 I/O 也不阻塞
type Reconciler struct {
	cfg Config
	log *zap.SugaredLogger

	pos     Vec3    // 当前渲染位置
	heading float64 // 当前渲染朝向

	last    Snapshot // 最近一个快照
	prev    Snapshot // 次近一个快照
	hasLast bool

	vel      Vec3    // 指数平滑后的估计速度
	progress float64 // 插值进度 [0,1]

	startPos     Vec3    // 本段插值起点（上一个目标）
	startHeading float64
	target       Vec3 // 预测目标：快照位置 + 速度外推

	intervals []time.Duration // 最近到达间隔（抖动估计）
	snapCount int

	interpBase time.Duration // 由抖动统计推导的基线插值窗口
	predBase   float64       // 由抖动统计推导的基线预测强度

	interp     time.Duration // 当前插值窗口（丢包时拉长）
	prediction float64       // 当前预测强度（丢包时升压）

	sinceLast time.Duration // 距上个快照的累计渲染时间
	drops     int           // 连续疑似丢包计数
}

// New 构造一个远端载具的调和器
func New(cfg Config, log *zap.SugaredLogger) *Reconciler {
	cfg.fill()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		cfg:        cfg,
		log:        log,
		interpBase: cfg.BaseInterp,
		predBase:   cfg.BasePrediction,
		interp:     cfg.BaseInterp,
		prediction: cfg.BasePrediction,
		intervals:  make([]time.Duration, 0, cfg.Window),
	}
}

// Pos 当前渲染位置
func (r *Reconciler) Pos() Vec3 { return r.pos }

// Heading 当前渲染朝向
func (r *Reconciler) Heading() float64 { return r.heading }

// Drops 连续疑似丢包数（新快照到达即清零）
func (r *Reconciler) Drops() int { return r.drops }

// Snapshots 返回最近与次近收到的快照（当前插值段的两端）
func (r *Reconciler) Snapshots() (last, prev Snapshot) { return r.last, r.prev }

// OnSnapshot 收到一个快照：估速、记间隔、重置插值段
// 快照可能乱序到达；早于当前快照的旧包直接当重复处理
func (r *Reconciler) OnSnapshot(s Snapshot) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	if r.hasLast {
		dt := s.At.Sub(r.last.At)
		if dt > 0 {
			inst := s.Pos.Sub(r.last.Pos).Scale(1 / dt.Seconds())
			r.blendVelocity(inst)
			r.recordInterval(dt)
		}
		// 上一段的目标变成新一段的起点：两段插值无缝衔接
		r.startPos = r.target
		r.startHeading = r.last.Heading
		r.prev = r.last
	} else {
		// 第一个快照：直接落位，没有可插值的历史
		r.pos = s.Pos
		r.heading = s.Heading
		r.startPos = s.Pos
		r.startHeading = s.Heading
	}
	r.last = s
	r.hasLast = true
	r.target = s.Pos
	r.progress = 0
	r.sinceLast = 0

	// 丢包升压随新快照到达立即回落基线
	if r.drops > 0 {
		r.log.Debugf("recovered after %d suspected drops", r.drops)
	}
	r.drops = 0
	r.prediction = r.basePrediction()
	r.interp = r.baseInterp()

	r.snapCount++
	if r.snapCount%r.cfg.RecalEvery == 0 {
		r.recalibrate()
	}
}

// blendVelocity 指数滑动平均；方向骤变（点积低于阈值）说明是真机动
// 而非抖动，加大权重更快跟上
func (r *Reconciler) blendVelocity(inst Vec3) {
	w := r.cfg.BaseBlend
	il, vl := inst.Len(), r.vel.Len()
	if il > 1e-9 && vl > 1e-9 && inst.Dot(r.vel)/(il*vl) < r.cfg.TurnDotThresh {
		w = r.cfg.TurnBlend
	}
	r.vel = r.vel.Scale(1 - w).Add(inst.Scale(w))
}

func (r *Reconciler) recordInterval(dt time.Duration) {
	if len(r.intervals) == r.cfg.Window {
		copy(r.intervals, r.intervals[1:])
		r.intervals = r.intervals[:len(r.intervals)-1]
	}
	r.intervals = append(r.intervals, dt)
}

// intervalStats 最近到达间隔的均值与标准差（网络抖动估计）
func (r *Reconciler) intervalStats() (mean, stddev time.Duration) {
	if len(r.intervals) == 0 {
		return r.cfg.BaseInterp, 0
	}
	var sum time.Duration
	for _, d := range r.intervals {
		sum += d
	}
	mean = sum / time.Duration(len(r.intervals))
	var varSum float64
	for _, d := range r.intervals {
		diff := float64(d - mean)
		varSum += diff * diff
	}
	stddev = time.Duration(math.Sqrt(varSum / float64(len(r.intervals))))
	return mean, stddev
}

// maxExpected 动态估计的最大可接受到达间隔；超过视为疑似丢包
func (r *Reconciler) maxExpected() time.Duration {
	mean, stddev := r.intervalStats()
	limit := mean + 3*stddev
	if limit < 2*r.interpBase {
		limit = 2 * r.interpBase
	}
	return limit
}

// 低抖动 → 短窗口低预测（要响应）；高抖动 → 反之（要平滑）
// 每次都从不变的配置基线重新推导，抖动回落时参数跟着回落
func (r *Reconciler) recalibrate() {
	mean, stddev := r.intervalStats()
	interp := mean + 2*stddev
	if min := 60 * time.Millisecond; interp < min {
		interp = min
	}
	if max := 400 * time.Millisecond; interp > max {
		interp = max
	}
	r.interpBase = interp

	jitter := 0.0
	if mean > 0 {
		jitter = float64(stddev) / float64(mean)
	}
	pred := r.cfg.BasePrediction * (1 + jitter)
	if pred > r.cfg.MaxPrediction {
		pred = r.cfg.MaxPrediction
	}
	r.predBase = pred
	r.interp = r.interpBase
	r.prediction = r.predBase
	r.log.Debugf("recalibrated: mean=%v stddev=%v interp=%v pred=%.2f", mean, stddev, interp, pred)
}

func (r *Reconciler) basePrediction() float64 { return r.predBase }
func (r *Reconciler) baseInterp() time.Duration { return r.interpBase }

// Frame 每渲染帧推进一次；frameDt 为帧间隔
// 与快照到达节奏完全解耦：没有新包时靠预测继续滑行
func (r *Reconciler) Frame(frameDt time.Duration) {
	if !r.hasLast || frameDt <= 0 {
		return
	}
	r.sinceLast += frameDt
	r.detectLoss()

	r.progress += float64(frameDt) / float64(r.interp)
	if r.progress > 1 {
		r.progress = 1
	}

	// 预测目标持续外推，远端载具在两包之间不冻结
	r.target = r.target.Add(r.vel.Scale(frameDt.Seconds() * r.prediction))

	dist := r.pos.Dist(r.target)
	if dist > r.cfg.TeleportDist {
		// 换房/重生/长时间停顿：瞬移到位，不做跨地图滑行
		r.pos = r.target
		r.heading = r.last.Heading
		r.startPos = r.target
		r.startHeading = r.last.Heading
		r.progress = 1
		return
	}

	// 中等跳变时加速插值进度，避免橡皮筋感
	t := r.progress
	if dist > r.cfg.AccelDist {
		t = math.Min(1, t*1.5)
	}
	r.pos = lerp(r.startPos, r.target, t)
	r.heading = lerpAngle(r.startHeading, r.last.Heading, t)
}

// detectLoss 超过动态最大间隔仍无新包：按一次丢包处理
// 升预测强度、拉长插值窗口（此时宁可平滑，不求响应）
func (r *Reconciler) detectLoss() {
	expected := r.maxExpected()
	threshold := time.Duration(r.drops+1) * expected
	if r.sinceLast <= threshold {
		return
	}
	r.drops++
	r.prediction = math.Min(r.prediction*1.15, r.cfg.MaxPrediction)
	r.interp = time.Duration(math.Min(float64(r.interp)*1.25, float64(500*time.Millisecond)))
	r.log.Debugf("suspected drop #%d: silent for %v (expected <= %v)", r.drops, r.sinceLast, expected)
}
