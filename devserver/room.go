package devserver

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ironvein/client"
)

// Room 房间世界：权威玩家表维护在内存，按消息到达顺序推进
type Room struct {
	ID string

	mu      sync.Mutex
	players map[string]*client.Player
	peers   map[string]*peer

	nextMsgID atomic.Int64

	// 新玩家的出生点与缺省属性
	spawnX, spawnY int
	startHealth    int
	startResources int
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string) *Room {
	return &Room{
		ID:             id,
		players:        make(map[string]*client.Player),
		peers:          make(map[string]*peer),
		spawnX:         client.GridSize / 2,
		spawnY:         client.GridSize / 2,
		startHealth:    100,
		startResources: 0,
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v >= client.GridSize {
		return client.GridSize - 1
	}
	return v
}

// Join 玩家入房：旧连接顶替、给本人发整房快照、向其他人广播 player_joined
func (r *Room) Join(username string, p *peer) {
	r.mu.Lock()
	if old, ok := r.peers[username]; ok && old != p {
		// 同名重连：顶掉旧连接
		old.close()
	}
	r.peers[username] = p

	pl, ok := r.players[username]
	if !ok {
		pl = &client.Player{
			Username:  username,
			X:         r.spawnX,
			Y:         r.spawnY,
			Health:    r.startHealth,
			Resources: r.startResources,
			Room:      r.ID,
		}
		r.players[username] = pl
	}
	snapshot := r.snapshotLocked()
	joined := *pl
	r.mu.Unlock()

	// 权威重同步：快照只发给入房者，其他人收增量
	p.enqueueMsg(client.GameState{Players: snapshot})
	r.broadcastExcept(username, client.PlayerJoined{
		Username: joined.Username, X: joined.X, Y: joined.Y,
	})
	client.Log.Infof("devserver: %s joined room %s", username, r.ID)
}

// Move 更新位置并向全房广播 player_update（发起者也收到，完成权威确认）
func (r *Room) Move(username string, x, y int) {
	r.mu.Lock()
	pl, ok := r.players[username]
	if !ok {
		r.mu.Unlock()
		return
	}
	pl.X, pl.Y = clamp(x), clamp(y)
	update := *pl
	r.mu.Unlock()

	r.broadcast(client.PlayerUpdate{
		Username: update.Username, X: update.X, Y: update.Y,
		Health: update.Health, Resources: update.Resources,
	})
}

// Chat 给聊天分配 id 与时间戳后回射给全房（发送者也收到自己的回射）
func (r *Room) Chat(username, text string) {
	id := r.nextMsgID.Add(1)
	r.broadcast(client.ChatMessage{
		ID:        "m" + strconv.FormatInt(id, 10),
		Username:  username,
		Text:      text,
		Timestamp: fmt.Sprintf("%d", time.Now().UnixMilli()),
		Room:      r.ID,
	})
}

// Leave 玩家离房：移除记录并广播 player_left。
// from 用于识别调用方连接：同名重连顶替后，旧连接的收尾
// 不得把新连接踢出去。连接本身的关闭由调用方负责
func (r *Room) Leave(username string, from *peer) {
	r.mu.Lock()
	cur, ok := r.peers[username]
	if ok && cur != from {
		// 该名字已被新连接接管，旧连接的收尾到此为止
		r.mu.Unlock()
		return
	}
	delete(r.peers, username)
	_, hadPlayer := r.players[username]
	delete(r.players, username)
	r.mu.Unlock()

	if hadPlayer {
		r.broadcast(client.PlayerLeft{Username: username})
		client.Log.Infof("devserver: %s left room %s", username, r.ID)
	}
}

// snapshotLocked 复制当前玩家表；调用方持锁
func (r *Room) snapshotLocked() []client.Player {
	out := make([]client.Player, 0, len(r.players))
	for _, pl := range r.players {
		out = append(out, *pl)
	}
	return out
}

// broadcast 向房间内所有连接投递一条消息
func (r *Room) broadcast(m client.Message) {
	r.broadcastExcept("", m)
}

// broadcastExcept 向除 skip 外的所有连接投递
func (r *Room) broadcastExcept(skip string, m client.Message) {
	b, err := client.Encode(m)
	if err != nil {
		client.Log.Errorf("devserver encode failed: %v", err)
		return
	}
	r.mu.Lock()
	targets := make([]*peer, 0, len(r.peers))
	for name, p := range r.peers {
		if name == skip {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()
	for _, p := range targets {
		p.enqueue(b)
	}
}
