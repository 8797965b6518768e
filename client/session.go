package client

import (
	"fmt"
	"sync"
	"time"
)

// Renderer 渲染层协作者：收到世界快照后负责画格子与精灵。
// 核心只递交副本，渲染层绝不直接改表
type Renderer interface {
	DrawFrame(players []Player)
}

// ChatPanel 聊天面板协作者：追加聊天行、管理"发送中"占位
type ChatPanel interface {
	AppendLine(line string)
	AddPendingPlaceholder(text string) Placeholder
	RetirePlaceholder(p Placeholder)
}

// Events 可选的事件通知回调；nil 字段跳过
type Events struct {
	ConnectionState func(s ConnState, cause error)
	Latency         func(rtt time.Duration)
	ServerError     func(text string)
}

// Config 会话配置，构造时一次性给定
type Config struct {
	URL      string // WebSocket 端点，如 ws://localhost:8080/ws
	Username string
	Room     string

	// LobbyMode 为 true 时 Open 后不自动发 Join，
	// 等待显式的 JoinBattle 意图；否则 Open 即入房
	LobbyMode bool

	HeartbeatInterval time.Duration // 探测周期；<=0 取缺省
	PendingTTL        time.Duration // 占位条目存活上限；<=0 取缺省
}

// DefaultPendingTTL 回射迟迟不来时占位条目的存活上限
const DefaultPendingTTL = 30 * time.Second

// Session 会话核心的外观：自有连接、世界表、待回射索引与心跳监视器，
// 向注入的协作者（Renderer/ChatPanel/Events）推送输出。
// 入站分发来自读协程、本地意图来自调用方协程，二者经 mu 串行，
// 表结构自身保持无锁的有序变更
type Session struct {
	cfg      Config
	conn     *Conn
	renderer Renderer
	panel    ChatPanel
	events   Events
	metrics  SessionMetrics

	mu      sync.Mutex
	world   *WorldState
	pending *PendingIndex
	hb      *HeartbeatMonitor
}

// NewSession 构造会话；renderer/panel 允许为 nil（无头运行，如测试）
func NewSession(cfg Config, renderer Renderer, panel ChatPanel, events Events) *Session {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	s := &Session{
		cfg:      cfg,
		renderer: renderer,
		panel:    panel,
		events:   events,
		world:    NewWorldState(cfg.Username, cfg.Room),
		pending:  NewPendingIndex(),
	}
	identity := RoomIdentity{Username: cfg.Username, Room: cfg.Room}
	// 处理器绑定一次，不随 connect 重建
	s.conn = NewConn(identity, !cfg.LobbyMode, s.dispatch, s.handleState)
	s.hb = NewHeartbeatMonitor(cfg.HeartbeatInterval, s.sendProbe, s.handleRTT)
	s.hb.SetTickHook(s.evictStalePending)
	return s
}

// Connect 发起连接；成功进入 Open 后启动心跳。
// auto-join 模式下 Open 即发送 Join（由 Conn 负责）
func (s *Session) Connect() error {
	if err := s.conn.Connect(s.cfg.URL); err != nil {
		return err
	}
	s.hb.Start()
	return nil
}

// JoinBattle lobby 模式的显式入房意图；非 Open 状态返回 ErrNotConnected
func (s *Session) JoinBattle() error {
	if s.conn.State() != StateOpen {
		s.metrics.IncSendsRefused()
		return ErrNotConnected
	}
	if err := s.conn.Send(Join{Username: s.cfg.Username, Room: s.cfg.Room}); err != nil {
		return err
	}
	s.metrics.IncFramesSent()
	return nil
}

// Move 本地移动意图：先乐观改本地位置（零感知延迟），再发送给服务端；
// 之后的 player_update 会直接覆盖推测值。坐标越界或未连接返回错误
func (s *Session) Move(x, y int) error {
	if x < 0 || x >= GridSize || y < 0 || y >= GridSize {
		return fmt.Errorf("move out of grid: (%d,%d)", x, y)
	}
	if s.conn.State() != StateOpen {
		s.metrics.IncSendsRefused()
		return ErrNotConnected
	}

	s.mu.Lock()
	s.world.ApplyOptimisticMove(x, y)
	snap := s.world.Snapshot()
	s.mu.Unlock()
	if s.renderer != nil {
		s.renderer.DrawFrame(snap)
	}

	err := s.conn.Send(Move{Username: s.cfg.Username, X: x, Y: y, Room: s.cfg.Room})
	if err != nil {
		s.metrics.IncSendsRefused()
		return err
	}
	s.metrics.IncFramesSent()
	return nil
}

// SendChat 发送聊天并登记占位。非 Open 状态返回 ErrNotConnected
// 且消息绝不触网；空白消息直接忽略
func (s *Session) SendChat(text string) error {
	if normalizeText(text) == "" {
		return nil
	}
	if s.conn.State() != StateOpen {
		s.metrics.IncSendsRefused()
		return ErrNotConnected
	}

	// 登记先于发送：保证回射到达时条目必然已在索引里，
	// 否则占位会滞留到超时清理、同一行还会显示两次
	var ph Placeholder
	if s.panel != nil {
		ph = s.panel.AddPendingPlaceholder(text)
	}
	s.mu.Lock()
	s.pending.Register(text, ph, time.Now())
	s.mu.Unlock()

	if err := s.conn.Send(Chat{Username: s.cfg.Username, Text: text, Room: s.cfg.Room}); err != nil {
		// 没发出去就撤销登记；回射不可能来，占位没有存在的理由
		s.mu.Lock()
		stale := s.pending.Retire(text)
		s.mu.Unlock()
		if stale != nil && s.panel != nil {
			s.panel.RetirePlaceholder(stale)
		}
		s.metrics.IncSendsRefused()
		return err
	}
	s.metrics.IncFramesSent()
	s.metrics.IncChatSent()
	return nil
}

// Disconnect 结束会话：停心跳、放通道；任意状态下幂等
func (s *Session) Disconnect() {
	s.hb.Stop()
	s.conn.Disconnect()
}

// State 当前连接状态
func (s *Session) State() ConnState { return s.conn.State() }

// WorldSnapshot 世界表副本，供渲染层外的读取方（如调试端点）
func (s *Session) WorldSnapshot() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Snapshot()
}

// SelfSnapshot 本地玩家的副本；尚未入表时 ok 为 false
func (s *Session) SelfSnapshot() (Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.world.Self()
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

// Metrics 运行期指标
func (s *Session) Metrics() *SessionMetrics { return &s.metrics }

// PendingCount 当前待回射占位数（调试端点用）
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// ---- 内部：心跳与清理 ----

// sendProbe 发出哨兵探测；非 Open 静默失败，从不向用户提示
func (s *Session) sendProbe() bool {
	ok := s.conn.TrySend(Chat{Username: s.cfg.Username, Text: probeBody, Room: s.cfg.Room})
	if ok {
		s.metrics.IncFramesSent()
		s.metrics.IncProbesSent()
	}
	return ok
}

func (s *Session) handleRTT(rtt time.Duration) {
	s.metrics.IncProbeEchoes()
	Log.Debugf("latency: %v", rtt)
	if s.events.Latency != nil {
		s.events.Latency(rtt)
	}
}

// evictStalePending 心跳周期顺带清理超时的占位条目
func (s *Session) evictStalePending(now time.Time) {
	cutoff := now.Add(-s.cfg.PendingTTL)
	s.mu.Lock()
	evicted := s.pending.EvictStale(cutoff)
	s.mu.Unlock()
	if len(evicted) == 0 {
		return
	}
	s.metrics.AddPendingEvicted(int64(len(evicted)))
	Log.Warnf("evicted %d pending chat placeholder(s) without echo", len(evicted))
	if s.panel != nil {
		for _, ph := range evicted {
			if ph != nil {
				s.panel.RetirePlaceholder(ph)
			}
		}
	}
}

// handleState 连接状态变化的统一出口
func (s *Session) handleState(state ConnState, cause error) {
	if cause != nil {
		Log.Warnf("connection state: %s (%v)", state, cause)
	} else {
		Log.Infof("connection state: %s", state)
	}
	if s.events.ConnectionState != nil {
		s.events.ConnectionState(state, cause)
	}
}

// ---- 内部：入站分发 ----

// dispatch 读协程按到达顺序逐帧调用；畸形帧丢弃记日志，绝不中断会话
func (s *Session) dispatch(data []byte) {
	s.metrics.IncFramesIn()
	msg, err := Decode(data)
	if err != nil {
		s.metrics.IncProtocolErrors()
		Log.Warnf("dropping frame: %v", err)
		return
	}

	switch m := msg.(type) {
	case ChatMessage:
		s.dispatchChat(m)
	case PlayerJoined:
		s.applyAndRedraw(func() { s.world.ApplyPlayerJoined(m.Username, m.X, m.Y) })
	case PlayerUpdate:
		s.applyAndRedraw(func() {
			s.world.ApplyPlayerUpdate(m.Username, m.X, m.Y, m.Health, m.Resources)
		})
	case PlayerLeft:
		s.applyAndRedraw(func() { s.world.ApplyPlayerLeft(m.Username) })
	case GameState:
		s.applyAndRedraw(func() { s.world.ApplyGameState(m.Players) })
	case ServerError:
		// 总是提示用户，从不中断连接
		s.metrics.IncServerErrors()
		Log.Warnf("server error: %s", m.Text)
		if s.events.ServerError != nil {
			s.events.ServerError(m.Text)
		} else if s.panel != nil {
			s.panel.AppendLine("! server error: " + m.Text)
		}
	default:
		// join/move/message 是出站标签，入站出现按协议错误丢弃
		s.metrics.IncProtocolErrors()
		Log.Warnf("dropping unexpected inbound frame: %T", msg)
	}
}

// dispatchChat 聊天回射的分流：本人哨兵 → 心跳；命中占位 → 原位替换；
// 其余 → 新的一行。探测/聊天的甄别发生在这里而不是解码器
func (s *Session) dispatchChat(m ChatMessage) {
	if m.Username == s.cfg.Username && normalizeText(m.Text) == probeBody {
		s.hb.Echo(time.Now())
		return
	}

	s.mu.Lock()
	ph := s.pending.Retire(m.Text)
	s.mu.Unlock()

	if ph != nil {
		// 先撤占位再显示权威行："发送中"被原位替换而不是重复出现
		s.metrics.IncPendingRetired()
		if s.panel != nil {
			s.panel.RetirePlaceholder(ph)
		}
	}
	if s.panel != nil {
		s.panel.AppendLine(formatChatLine(m))
	}
}

// applyAndRedraw 串行改表后把快照递给渲染层
func (s *Session) applyAndRedraw(apply func()) {
	s.mu.Lock()
	apply()
	snap := s.world.Snapshot()
	s.mu.Unlock()
	s.metrics.IncWorldUpdates()
	if s.renderer != nil {
		s.renderer.DrawFrame(snap)
	}
}

// formatChatLine 聊天行的文本形态
func formatChatLine(m ChatMessage) string {
	return fmt.Sprintf("%s: %s", m.Username, m.Text)
}
