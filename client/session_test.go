package client

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeRenderer struct {
	mu     sync.Mutex
	frames [][]Player
}

func (r *fakeRenderer) DrawFrame(players []Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, players)
}

func (r *fakeRenderer) last() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

type fakePanel struct {
	mu      sync.Mutex
	lines   []string
	seq     int
	retired []Placeholder
}

func (p *fakePanel) AppendLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
}

func (p *fakePanel) AddPendingPlaceholder(text string) Placeholder {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return fmt.Sprintf("ph-%d", p.seq)
}

func (p *fakePanel) RetirePlaceholder(ph Placeholder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired = append(p.retired, ph)
}

func newTestSession(t *testing.T, events Events) (*Session, *fakeRenderer, *fakePanel) {
	t.Helper()
	r := &fakeRenderer{}
	p := &fakePanel{}
	s := NewSession(Config{
		URL:      "ws://unused/ws",
		Username: "alice",
		Room:     "r1",
	}, r, p, events)
	return s, r, p
}

// 场景：收到两人的 game_state 后，世界恰好两条，本人被标出
func TestDispatchGameState(t *testing.T) {
	s, r, _ := newTestSession(t, Events{})
	s.dispatch([]byte(`{"type":"game_state","players":[
		{"username":"alice","x":1,"y":2,"health":100,"resources":0,"room":"r1"},
		{"username":"bob","x":3,"y":4,"health":80,"resources":5,"room":"r1"}]}`))

	snap := s.WorldSnapshot()
	if len(snap) != 2 {
		t.Fatalf("world has %d players, want 2", len(snap))
	}
	self, ok := s.SelfSnapshot()
	if !ok || self.Username != "alice" || self.X != 1 {
		t.Fatalf("self = %+v ok=%v", self, ok)
	}
	if r.last() == nil {
		t.Fatal("renderer not handed the snapshot")
	}
}

// 本人哨兵回射走延迟测量，绝不进聊天显示
func TestProbeEchoRoutedToLatency(t *testing.T) {
	var measured time.Duration
	s, _, p := newTestSession(t, Events{})
	s.hb = NewHeartbeatMonitor(time.Hour, func() bool { return true },
		func(rtt time.Duration) { measured = rtt })
	s.hb.tick(time.Now().Add(-10 * time.Millisecond))

	s.dispatch([]byte(`{"type":"chat_message","id":"m1","username":"alice","message":" P ","room":"r1"}`))

	if measured <= 0 {
		t.Fatal("probe echo did not produce an RTT sample")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lines) != 0 {
		t.Fatalf("probe leaked into chat: %v", p.lines)
	}
}

// 别人发的 "p" 是普通聊天，不走延迟测量
func TestForeignSentinelIsJustChat(t *testing.T) {
	called := false
	s, _, p := newTestSession(t, Events{})
	s.hb = NewHeartbeatMonitor(time.Hour, func() bool { return true },
		func(time.Duration) { called = true })
	s.hb.tick(time.Now())

	s.dispatch([]byte(`{"type":"chat_message","id":"m1","username":"bob","message":"p","room":"r1"}`))

	if called {
		t.Fatal("foreign sentinel must not resolve the probe")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lines) != 1 {
		t.Fatalf("chat line missing: %v", p.lines)
	}
}

// 回射命中占位：先撤占位，再显示权威行
func TestChatEchoRetiresPlaceholder(t *testing.T) {
	s, _, p := newTestSession(t, Events{})
	s.pending.Register("Hello", "ph-1", time.Now())

	s.dispatch([]byte(`{"type":"chat_message","id":"m1","username":"alice","message":"hello","room":"r1"}`))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.retired) != 1 || p.retired[0] != "ph-1" {
		t.Fatalf("placeholder not retired: %v", p.retired)
	}
	if len(p.lines) != 1 || p.lines[0] != "alice: hello" {
		t.Fatalf("authoritative line missing: %v", p.lines)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("pending not drained: %d", s.PendingCount())
	}
}

// openTestConn 给会话装上一条假装已 Open 的通道（队列无人消费），
// 用于不触网地走完发送路径
func openTestConn(s *Session, depth int) {
	s.conn.mu.Lock()
	s.conn.state = StateOpen
	s.conn.send = make(chan []byte, depth)
	s.conn.mu.Unlock()
}

// SendChat 返回时条目必须已在索引里：随后任何时刻到达的回射都能命中，
// 占位不会滞留、同一行不会显示两次
func TestChatRegistersPendingBeforeSendReturns(t *testing.T) {
	s, _, p := newTestSession(t, Events{})
	openTestConn(s, 4)

	if err := s.SendChat("Hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 right after SendChat", s.PendingCount())
	}

	s.dispatch([]byte(`{"type":"chat_message","id":"m1","username":"alice","message":"hello","room":"r1"}`))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.retired) != 1 || p.retired[0] != "ph-1" {
		t.Fatalf("placeholder not retired: %v", p.retired)
	}
	if len(p.lines) != 1 {
		t.Fatalf("lines = %v, want exactly one", p.lines)
	}
	if s.pending.Len() != 0 {
		t.Fatalf("pending not drained: %d", s.pending.Len())
	}
}

// 发送失败要撤销刚登记的条目与占位，不留垃圾等超时清理
func TestChatSendFailureUnwindsPending(t *testing.T) {
	s, _, p := newTestSession(t, Events{})
	openTestConn(s, 0) // 队列容量为零，入队必然失败

	if err := s.SendChat("hello"); err == nil {
		t.Fatal("want send failure")
	}
	if s.PendingCount() != 0 {
		t.Fatalf("pending = %d after failed send", s.PendingCount())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.retired) != 1 || p.retired[0] != "ph-1" {
		t.Fatalf("placeholder not unwound: %v", p.retired)
	}
}

func TestChatMissDisplaysFreshLine(t *testing.T) {
	s, _, p := newTestSession(t, Events{})
	s.dispatch([]byte(`{"type":"chat_message","id":"m2","username":"bob","message":"sup","room":"r1"}`))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.retired) != 0 {
		t.Fatalf("nothing was pending, yet retired %v", p.retired)
	}
	if len(p.lines) != 1 || p.lines[0] != "bob: sup" {
		t.Fatalf("lines = %v", p.lines)
	}
}

// 非 Open 状态的用户意图：报 ErrNotConnected 且绝不触网
func TestIntentsRefusedWhenNotOpen(t *testing.T) {
	s, _, p := newTestSession(t, Events{})

	if err := s.SendChat("hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendChat err = %v, want ErrNotConnected", err)
	}
	if err := s.Move(1, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Move err = %v, want ErrNotConnected", err)
	}
	if err := s.JoinBattle(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinBattle err = %v, want ErrNotConnected", err)
	}

	if s.PendingCount() != 0 {
		t.Fatal("refused chat must not register a placeholder")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq != 0 {
		t.Fatal("refused chat must not create a placeholder")
	}
	if got := s.Metrics().Snapshot()["sends_refused"].(int64); got != 3 {
		t.Fatalf("sends_refused = %d, want 3", got)
	}
}

func TestMoveRejectsOutOfGrid(t *testing.T) {
	s, _, _ := newTestSession(t, Events{})
	if err := s.Move(-1, 0); err == nil || errors.Is(err, ErrNotConnected) {
		t.Fatalf("want bounds error, got %v", err)
	}
	if err := s.Move(0, GridSize); err == nil || errors.Is(err, ErrNotConnected) {
		t.Fatalf("want bounds error, got %v", err)
	}
}

// 畸形帧：丢弃记数，会话与世界不受影响
func TestMalformedFramesAreDropped(t *testing.T) {
	s, _, _ := newTestSession(t, Events{})
	s.dispatch([]byte(`{{{`))
	s.dispatch([]byte(`{"type":"teleport"}`))
	s.dispatch([]byte(`{"type":"join","username":"x","room":"r1"}`)) // 出站标签不该入站

	if got := s.Metrics().Snapshot()["protocol_errors"].(int64); got != 3 {
		t.Fatalf("protocol_errors = %d, want 3", got)
	}
	if len(s.WorldSnapshot()) != 0 {
		t.Fatal("malformed frames corrupted the world table")
	}
}

func TestServerErrorIsSurfacedNotFatal(t *testing.T) {
	var surfaced string
	s, _, _ := newTestSession(t, Events{
		ServerError: func(text string) { surfaced = text },
	})
	s.dispatch([]byte(`{"type":"error","message":"room full"}`))

	if surfaced != "room full" {
		t.Fatalf("surfaced = %q", surfaced)
	}
	// 错误帧不中断会话（此处连接尚未建立，状态仍是 Idle）
	if s.State() != StateIdle {
		t.Fatalf("state = %v", s.State())
	}
}

func TestPlayerLifecycleDispatch(t *testing.T) {
	s, r, _ := newTestSession(t, Events{})
	s.dispatch([]byte(`{"type":"player_joined","username":"bob","x":4,"y":5}`))
	s.dispatch([]byte(`{"type":"player_update","username":"bob","x":6,"y":7,"health":90,"resources":2}`))

	snap := r.last()
	if len(snap) != 1 || snap[0].X != 6 || snap[0].Health != 90 {
		t.Fatalf("snapshot = %+v", snap)
	}

	s.dispatch([]byte(`{"type":"player_left","username":"bob"}`))
	if len(s.WorldSnapshot()) != 0 {
		t.Fatal("bob should be removed")
	}
}
