package client

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState 连接生命周期状态机的状态
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// RoomIdentity 本次连接的身份（username + room），connect 前设定，连接期内不变
type RoomIdentity struct {
	Username string
	Room     string
}

const (
	writeWait      = 5 * time.Second
	maxFrameSize   = 1 << 20 // 1MB
	sendQueueDepth = 64
)

// Conn 持有通道生命周期状态机：Idle → Connecting → Open → Closing → Closed，
// 任一在线状态可因传输故障进入 Errored。不自动重连；关闭过的会话不可复用，
// 重连即新建 Conn。帧的接收在读协程里按到达顺序逐帧回调 onFrame，
// 天然串行，分发方无需再排队
type Conn struct {
	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	send     chan []byte
	identity RoomIdentity
	autoJoin bool

	closeCode   int
	closeReason string

	// 处理器在构造时绑定一次，不随 connect 重建（避免旧闭包泄漏状态）
	onFrame func(data []byte)
	onState func(s ConnState, cause error)

	closeOnce sync.Once
}

// NewConn 构造连接管理器。autoJoin: Open 后立即发送 Join；
// 否则 Join 延迟到显式的 JoinBattle 意图（lobby 模式）
func NewConn(identity RoomIdentity, autoJoin bool, onFrame func([]byte), onState func(ConnState, error)) *Conn {
	return &Conn{
		state:    StateIdle,
		identity: identity,
		autoJoin: autoJoin,
		onFrame:  onFrame,
		onState:  onState,
	}
}

// State 当前状态
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseInfo 最近一次关闭的关闭码与原因（未关闭过为 0,""）
func (c *Conn) CloseInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// notify 在锁外触发状态通知，避免回调重入造成死锁
func (c *Conn) notify(s ConnState, cause error) {
	if c.onState != nil {
		c.onState(s, cause)
	}
}

// Connect 拨号并进入 Open。仅允许从 Idle 发起：重复 connect、
// 或对已关闭会话 connect 都返回 ErrInvalidState。
// 本设计中拨号自身不设超时（打开不会自行过期）
func (c *Conn) Connect(url string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if c.identity.Username == "" || c.identity.Room == "" {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting, nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		terr := &TransportError{Err: err}
		c.mu.Lock()
		if c.state != StateConnecting {
			// 拨号期间被 Disconnect 抢先：状态已定格为 Closed，
			// 迟到的拨号失败不得把它改写成 Errored
			c.mu.Unlock()
			return ErrInvalidState
		}
		c.state = StateErrored
		c.mu.Unlock()
		Log.Errorf("dial %s failed: %v", url, err)
		c.notify(StateErrored, terr)
		return terr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// 拨号期间被 Disconnect 抢先：放弃这条连接
		c.mu.Unlock()
		_ = ws.Close()
		return ErrInvalidState
	}
	c.ws = ws
	c.send = make(chan []byte, sendQueueDepth)
	c.state = StateOpen
	c.mu.Unlock()

	go c.writePump(ws, c.send)
	go c.readPump(ws)

	c.notify(StateOpen, nil)
	Log.Infof("connected to %s as %s/%s", url, c.identity.Username, c.identity.Room)

	if c.autoJoin {
		if err := c.Send(Join{Username: c.identity.Username, Room: c.identity.Room}); err != nil {
			Log.Errorf("auto-join enqueue failed: %v", err)
		}
	}
	return nil
}

// Send 发送用户意图帧；非 Open 状态返回 ErrNotConnected，
// 是否向用户提示由调用方决定（聊天提示，探测从不提示）
func (c *Conn) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		// 队列打满说明写端已经异常，按传输故障上报
		return &TransportError{Err: errSendQueueFull}
	}
}

// TrySend 低优先级发送（心跳探测）：非 Open 状态静默失败，
// 返回是否真正入队
func (c *Conn) TrySend(m Message) bool {
	data, err := Encode(m)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.send == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump 独立协程，从 send 队列写出到 WS
func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte) {
	for msg := range send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			Log.Errorf("write failed: %v", err)
			c.fail(&TransportError{Err: err})
			return
		}
	}
	// 队列被 Disconnect 关闭，写协程随之收尾
}

// readPump 独立协程，逐帧读入并按到达顺序回调分发。
// 读取不设截止时间：安静的连接不算故障（超时语义由心跳监视器独占，
// 且回射迟到也只是静默），读阻塞到对端来帧、对端关闭或本端断开为止
func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxFrameSize)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if c.onFrame != nil {
			c.onFrame(payload)
		}
	}
}

// handleReadError 读协程退出路径：区分对端关闭与传输故障。
// 两种路径都不自动重连，恢复动作交给上层（提示用户手动重连）
func (c *Conn) handleReadError(err error) {
	c.mu.Lock()
	prior := c.state
	if prior == StateClosed || prior == StateErrored {
		c.mu.Unlock()
		return
	}

	if ce, ok := err.(*websocket.CloseError); ok {
		// 对端关闭（正常或异常关闭码都记录在案）
		c.closeCode = ce.Code
		c.closeReason = ce.Text
		c.teardownLocked()
		c.state = StateClosed
		c.mu.Unlock()
		Log.Infof("connection closed by peer: code=%d reason=%q", ce.Code, ce.Text)
		c.notify(StateClosed, &TransportError{Code: ce.Code, Reason: ce.Text, Err: err})
		return
	}

	if prior == StateClosing {
		// 本端发起的关闭，读协程随之退出
		c.teardownLocked()
		c.state = StateClosed
		c.mu.Unlock()
		c.notify(StateClosed, nil)
		return
	}

	c.teardownLocked()
	c.state = StateErrored
	c.mu.Unlock()
	Log.Errorf("transport error: %v", err)
	c.notify(StateErrored, &TransportError{Err: err})
}

// fail 写端故障的收敛路径
func (c *Conn) fail(terr *TransportError) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateErrored {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = StateErrored
	c.mu.Unlock()
	c.notify(StateErrored, terr)
}

// teardownLocked 释放通道资源，保证恰好一次；调用方持锁
func (c *Conn) teardownLocked() {
	c.closeOnce.Do(func() {
		if c.send != nil {
			close(c.send)
			c.send = nil
		}
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// Disconnect 显式断开：任意状态下幂等且安全，资源恰好释放一次，
// 结束后状态确定为 Closed
func (c *Conn) Disconnect() {
	c.mu.Lock()
	prior := c.state
	if prior == StateClosed {
		c.mu.Unlock()
		return
	}
	if prior == StateOpen {
		c.state = StateClosing
	}
	c.teardownLocked()
	c.state = StateClosed
	c.mu.Unlock()

	if prior != StateClosed {
		c.notify(StateClosed, nil)
	}
	Log.Infof("disconnected (prior state: %s)", prior)
}
