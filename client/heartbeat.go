package client

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval 探测周期的缺省值
const DefaultHeartbeatInterval = 10 * time.Second

// HeartbeatMonitor 周期性发出哨兵探测并测量往返延迟。
// 协议里探测没有序列号，RTT 只能按"最近一次发出时间 → 下一次被识别
// 为探测的回射"计算，同时只允许一条在途（上一条未回射前不发新探测），
// 否则时间戳错位会污染采样。回射迟迟不来按静默处理，不升级为故障
type HeartbeatMonitor struct {
	mu          sync.Mutex
	interval    time.Duration
	outstanding bool
	sentAt      time.Time

	sendProbe func() bool          // 发出一条探测；false 表示未发出（如连接未 Open）
	onRTT     func(time.Duration)  // 测得一次 RTT 的通知
	onTick    func(now time.Time)  // 每个周期的附带工作（如清理过期 pending）

	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewHeartbeatMonitor 构造监视器；interval<=0 时取缺省周期
func NewHeartbeatMonitor(interval time.Duration, sendProbe func() bool, onRTT func(time.Duration)) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatMonitor{
		interval:  interval,
		sendProbe: sendProbe,
		onRTT:     onRTT,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetTickHook 注册每周期回调，在尝试发探测之前执行
func (h *HeartbeatMonitor) SetTickHook(fn func(now time.Time)) {
	h.onTick = fn
}

// Start 启动探测循环；Stop 之前只应调用一次
func (h *HeartbeatMonitor) Start() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.run()
}

func (h *HeartbeatMonitor) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			if h.onTick != nil {
				h.onTick(now)
			}
			h.tick(now)
		}
	}
}

// tick 串行化探测：在途未归则本周期跳过。
// 先标记在途再发送，回射到达时标记必然已就位；发送不持锁，
// 因为回射路径（Echo）也要拿锁
func (h *HeartbeatMonitor) tick(now time.Time) {
	h.mu.Lock()
	if h.outstanding {
		h.mu.Unlock()
		return
	}
	h.outstanding = true
	h.sentAt = now
	h.mu.Unlock()

	// sendProbe 失败（未连接等）静默放过，撤销在途标记
	if !h.sendProbe() {
		h.mu.Lock()
		h.outstanding = false
		h.mu.Unlock()
	}
}

// Echo 由分发器在识别到本人哨兵回射时调用；没有在途探测时忽略
func (h *HeartbeatMonitor) Echo(now time.Time) {
	h.mu.Lock()
	if !h.outstanding {
		h.mu.Unlock()
		return
	}
	h.outstanding = false
	rtt := now.Sub(h.sentAt)
	h.mu.Unlock()

	if rtt < 0 {
		rtt = 0
	}
	if h.onRTT != nil {
		h.onRTT(rtt)
	}
}

// Outstanding 是否有在途探测（测试用）
func (h *HeartbeatMonitor) Outstanding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outstanding
}

// Stop 停止探测循环并等待退出；可重复调用，未 Start 过也安全
func (h *HeartbeatMonitor) Stop() {
	h.once.Do(func() { close(h.stop) })
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		<-h.done
	}
}
