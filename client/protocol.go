package client

import (
	"encoding/json"
	"fmt"
)

// 协议标签（帧的 type 字段），闭集：未列出的标签一律按 ProtocolError 丢弃
const (
	TagJoin         = "join"
	TagMove         = "move"
	TagMessage      = "message" // 聊天与心跳探测共用，见 probeBody
	TagChatMessage  = "chat_message"
	TagPlayerJoined = "player_joined"
	TagPlayerUpdate = "player_update"
	TagPlayerLeft   = "player_left"
	TagGameState    = "game_state"
	TagError        = "error"
)

// probeBody 心跳探测的哨兵载荷：复用 message 标签做延迟测量，
// 避免为活性检测单开协议变体；分发器据此在聊天与探测间分流
const probeBody = "p"

// Message 协议消息的闭集接口；只有本包内的类型能实现
type Message interface {
	tag() string
}

// Player 房间内一名玩家的权威状态（服务端口径）
type Player struct {
	Username  string `json:"username"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Health    int    `json:"health"`
	Resources int    `json:"resources"`
	Room      string `json:"room"`
}

// ---- 出站意图 ----

// Join 进入房间（auto-join 模式在 Open 时自动发送，lobby 模式由 JoinBattle 触发）
type Join struct {
	Username string
	Room     string
}

// Move 本地玩家移动意图；坐标为目标格
type Move struct {
	Username string
	X, Y     int
	Room     string
}

// Chat 出站聊天（或哨兵探测）；服务端会以 ChatMessage 回射
type Chat struct {
	Username string
	Text     string
	Room     string
}

// ---- 入站事件 ----

// ChatMessage 服务端回射的聊天行；id 与 timestamp 由服务端分配，客户端不解释
type ChatMessage struct {
	ID        string
	Username  string
	Text      string
	Timestamp string
	Room      string
}

type PlayerJoined struct {
	Username string
	X, Y     int
}

type PlayerUpdate struct {
	Username  string
	X, Y      int
	Health    int
	Resources int
}

type PlayerLeft struct {
	Username string
}

// GameState 整房快照，(重新)加入后的权威重同步路径
type GameState struct {
	Players []Player
}

// ServerError 服务端下发的错误文本；只提示用户，不致命
type ServerError struct {
	Text string
}

func (Join) tag() string         { return TagJoin }
func (Move) tag() string         { return TagMove }
func (Chat) tag() string         { return TagMessage }
func (ChatMessage) tag() string  { return TagChatMessage }
func (PlayerJoined) tag() string { return TagPlayerJoined }
func (PlayerUpdate) tag() string { return TagPlayerUpdate }
func (PlayerLeft) tag() string   { return TagPlayerLeft }
func (GameState) tag() string    { return TagGameState }
func (ServerError) tag() string  { return TagError }

// 线上形态：一帧 = 一个自包含的 JSON 对象，type 字段为标签。
// 入站解码用指针字段区分"缺字段"与"零值"，保证形状校验是严格的
type wireFrame struct {
	Type      string    `json:"type"`
	ID        *string   `json:"id,omitempty"`
	Username  *string   `json:"username,omitempty"`
	Room      *string   `json:"room,omitempty"`
	X         *int      `json:"x,omitempty"`
	Y         *int      `json:"y,omitempty"`
	Health    *int      `json:"health,omitempty"`
	Resources *int      `json:"resources,omitempty"`
	Message   *string   `json:"message,omitempty"`
	Timestamp *string   `json:"timestamp,omitempty"`
	Players   *[]Player `json:"players,omitempty"`
}

// Encode 将消息编码为规范的单帧 JSON；编码总是整帧完成，没有流式形态
func Encode(m Message) ([]byte, error) {
	f := wireFrame{Type: m.tag()}
	switch v := m.(type) {
	case Join:
		f.Username, f.Room = &v.Username, &v.Room
	case Move:
		f.Username, f.Room = &v.Username, &v.Room
		f.X, f.Y = &v.X, &v.Y
	case Chat:
		f.Username, f.Room = &v.Username, &v.Room
		f.Message = &v.Text
	case ChatMessage:
		f.ID, f.Username, f.Room = &v.ID, &v.Username, &v.Room
		f.Message, f.Timestamp = &v.Text, &v.Timestamp
	case PlayerJoined:
		f.Username, f.X, f.Y = &v.Username, &v.X, &v.Y
	case PlayerUpdate:
		f.Username, f.X, f.Y = &v.Username, &v.X, &v.Y
		f.Health, f.Resources = &v.Health, &v.Resources
	case PlayerLeft:
		f.Username = &v.Username
	case GameState:
		players := v.Players
		if players == nil {
			players = []Player{}
		}
		f.Players = &players
	case ServerError:
		f.Message = &v.Text
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}
	return json.Marshal(f)
}

// Decode 严格解码一帧：未知标签或字段缺失/类型不符返回 *ProtocolError，
// 调用方（分发器）据此丢帧记日志；畸形帧绝不允许影响世界状态
func Decode(data []byte) (Message, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed frame: %v", err)}
	}
	if f.Type == "" {
		return nil, &ProtocolError{Reason: "missing type field"}
	}

	missing := func(field string) (Message, error) {
		return nil, &ProtocolError{Tag: f.Type, Reason: "missing field " + field}
	}

	switch f.Type {
	case TagJoin:
		if f.Username == nil {
			return missing("username")
		}
		if f.Room == nil {
			return missing("room")
		}
		return Join{Username: *f.Username, Room: *f.Room}, nil
	case TagMove:
		if f.Username == nil {
			return missing("username")
		}
		if f.X == nil || f.Y == nil {
			return missing("x/y")
		}
		if f.Room == nil {
			return missing("room")
		}
		return Move{Username: *f.Username, X: *f.X, Y: *f.Y, Room: *f.Room}, nil
	case TagMessage:
		if f.Username == nil {
			return missing("username")
		}
		if f.Message == nil {
			return missing("message")
		}
		if f.Room == nil {
			return missing("room")
		}
		return Chat{Username: *f.Username, Text: *f.Message, Room: *f.Room}, nil
	case TagChatMessage:
		if f.ID == nil {
			return missing("id")
		}
		if f.Username == nil {
			return missing("username")
		}
		if f.Message == nil {
			return missing("message")
		}
		m := ChatMessage{ID: *f.ID, Username: *f.Username, Text: *f.Message}
		// timestamp/room 在旧服务端上可能缺省，按空值兼容
		if f.Timestamp != nil {
			m.Timestamp = *f.Timestamp
		}
		if f.Room != nil {
			m.Room = *f.Room
		}
		return m, nil
	case TagPlayerJoined:
		if f.Username == nil {
			return missing("username")
		}
		if f.X == nil || f.Y == nil {
			return missing("x/y")
		}
		return PlayerJoined{Username: *f.Username, X: *f.X, Y: *f.Y}, nil
	case TagPlayerUpdate:
		if f.Username == nil {
			return missing("username")
		}
		if f.X == nil || f.Y == nil {
			return missing("x/y")
		}
		if f.Health == nil || f.Resources == nil {
			return missing("health/resources")
		}
		return PlayerUpdate{Username: *f.Username, X: *f.X, Y: *f.Y,
			Health: *f.Health, Resources: *f.Resources}, nil
	case TagPlayerLeft:
		if f.Username == nil {
			return missing("username")
		}
		return PlayerLeft{Username: *f.Username}, nil
	case TagGameState:
		if f.Players == nil {
			return missing("players")
		}
		// 快照条目同样要过形状检查：username 是表键，空键条目即畸形帧
		for i, p := range *f.Players {
			if p.Username == "" {
				return nil, &ProtocolError{Tag: f.Type,
					Reason: fmt.Sprintf("players[%d] missing username", i)}
			}
		}
		return GameState{Players: *f.Players}, nil
	case TagError:
		if f.Message == nil {
			return missing("message")
		}
		return ServerError{Text: *f.Message}, nil
	default:
		return nil, &ProtocolError{Tag: f.Type, Reason: "unrecognized tag"}
	}
}
