package client

const (
	// GridSize 世界边长（格）；合法坐标范围 [0, GridSize)
	GridSize = 64

	// 新玩家的缺省属性（player_joined 不携带 health/resources）
	defaultHealth    = 100
	defaultResources = 0
)

// WorldState 当前房间的玩家表：权威状态 + 本地乐观修改。
// 表完全由分发循环串行驱动，自身不加锁；渲染层只消费 Snapshot 副本
type WorldState struct {
	players map[string]*Player
	self    string // 本地玩家 username；self 指向表内同一条记录，不是副本
	room    string
}

// NewWorldState 创建空世界；self/room 为本次连接的身份，连接期内不变
func NewWorldState(self, room string) *WorldState {
	return &WorldState{
		players: make(map[string]*Player),
		self:    self,
		room:    room,
	}
}

// clampGrid 越界坐标裁剪到合法范围
func clampGrid(v int) int {
	if v < 0 {
		return 0
	}
	if v >= GridSize {
		return GridSize - 1
	}
	return v
}

// ApplyPlayerJoined 插入（或覆盖）一名玩家，属性取缺省值。
// 协议没有顺序号，策略是按到达顺序 last-message-wins
func (w *WorldState) ApplyPlayerJoined(username string, x, y int) {
	w.players[username] = &Player{
		Username:  username,
		X:         clampGrid(x),
		Y:         clampGrid(y),
		Health:    defaultHealth,
		Resources: defaultResources,
		Room:      w.room,
	}
}

// ApplyPlayerUpdate 整条覆盖该玩家的记录；对本地玩家同样生效，
// 乐观移动的推测值在此被权威值覆盖（last-write-wins，无回滚路径）
func (w *WorldState) ApplyPlayerUpdate(username string, x, y, health, resources int) {
	p, ok := w.players[username]
	if !ok {
		p = &Player{Username: username, Room: w.room}
		w.players[username] = p
	}
	p.X, p.Y = clampGrid(x), clampGrid(y)
	p.Health, p.Resources = health, resources
}

// ApplyPlayerLeft 移除玩家；之后同名消息会重建一条全新记录
func (w *WorldState) ApplyPlayerLeft(username string) {
	delete(w.players, username)
}

// ApplyGameState 整表替换：清空后逐条插入快照，幂等。
// 这是 (重新)加入后的权威重同步路径
func (w *WorldState) ApplyGameState(players []Player) {
	w.players = make(map[string]*Player, len(players))
	for i := range players {
		p := players[i]
		p.X, p.Y = clampGrid(p.X), clampGrid(p.Y)
		w.players[p.Username] = &p
	}
}

// ApplyOptimisticMove 服务端确认之前先改本地位置，输入零感知延迟；
// 后续 player_update 直接覆盖该推测值。本地玩家尚未入表时顺带建一条
func (w *WorldState) ApplyOptimisticMove(x, y int) {
	p, ok := w.players[w.self]
	if !ok {
		p = &Player{
			Username:  w.self,
			Health:    defaultHealth,
			Resources: defaultResources,
			Room:      w.room,
		}
		w.players[w.self] = p
	}
	p.X, p.Y = clampGrid(x), clampGrid(y)
}

// Self 返回本地玩家在表内的记录；尚未加入时为 nil
func (w *WorldState) Self() *Player {
	return w.players[w.self]
}

// Get 按 username 查询；返回表内指针，仅限分发循环内使用
func (w *WorldState) Get(username string) (*Player, bool) {
	p, ok := w.players[username]
	return p, ok
}

// Len 当前玩家数
func (w *WorldState) Len() int { return len(w.players) }

// Snapshot 复制整表供渲染层消费；副本与表互不影响
func (w *WorldState) Snapshot() []Player {
	out := make([]Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, *p)
	}
	return out
}
