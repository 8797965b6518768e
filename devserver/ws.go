// Package devserver 是一个说同一套线协议的最小权威服务端：
// 供 -dev 演示模式与集成测试使用，让会话核心能对着真实的
// WebSocket 对端跑通 join/move/message 全流程
package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ironvein/client"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

// peer 负责向单个客户端发送数据的轻量包装。
// close 可能来自读协程收尾或同名重连顶替，需要幂等
type peer struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newPeer(ws *websocket.Conn) *peer {
	return &peer{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (p *peer) enqueue(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- b:
	default:
		// 为了实时性，队列满时丢弃（防止单个慢客户端拖住房间）
	}
}

// enqueueMsg 编码后入队；编码失败只记日志
func (p *peer) enqueueMsg(m client.Message) {
	b, err := client.Encode(m)
	if err != nil {
		client.Log.Errorf("devserver encode failed: %v", err)
		return
	}
	p.enqueue(b)
}

// close 关闭底层连接与发送队列；可重复调用
func (p *peer) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
	p.mu.Unlock()
	_ = p.ws.Close()
}

// writePump 独立协程，从 send 队列写出到 WS
func (p *peer) writePump() {
	defer p.ws.Close()
	for msg := range p.send {
		_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump 逐帧解码客户端意图并路由到房间；
// 身份来自 join 帧，join 之前的其他意图回以 error 帧
func (p *peer) readPump() {
	defer p.close()

	var joinedRoom *Room
	var joinedAs string
	defer func() {
		if joinedRoom != nil {
			joinedRoom.Leave(joinedAs, p)
		}
	}()

	p.ws.SetReadLimit(1 << 20) // 1MB
	_ = p.ws.SetReadDeadline(time.Now().Add(readWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(readWait))

		msg, err := client.Decode(payload)
		if err != nil {
			client.Log.Warnf("devserver dropping frame: %v", err)
			p.enqueueMsg(client.ServerError{Text: "malformed frame"})
			continue
		}

		switch m := msg.(type) {
		case client.Join:
			room := GetRoomManager().GetOrCreateRoom(m.Room)
			if joinedRoom != nil && joinedRoom != room {
				joinedRoom.Leave(joinedAs, p)
			}
			room.Join(m.Username, p)
			joinedRoom, joinedAs = room, m.Username
		case client.Move:
			if joinedRoom == nil {
				p.enqueueMsg(client.ServerError{Text: "join first"})
				continue
			}
			joinedRoom.Move(m.Username, m.X, m.Y)
		case client.Chat:
			if joinedRoom == nil {
				p.enqueueMsg(client.ServerError{Text: "join first"})
				continue
			}
			joinedRoom.Chat(m.Username, m.Text)
		default:
			// 服务端只消费出站意图；入站标签按错误回告
			p.enqueueMsg(client.ServerError{Text: "unexpected message type"})
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源
		return true
	},
}

// HandleWS WebSocket 接入；身份在首个 join 帧里给出，不走查询参数
func HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		client.Log.Errorf("devserver upgrade error: %v", err)
		return
	}
	p := newPeer(ws)
	go p.writePump()
	go p.readPump()
}
