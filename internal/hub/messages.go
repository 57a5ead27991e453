package hub

import "encoding/json"

// 客户端 -> 服务端的指令类型
const (
	CmdWatchLobby   = "watchLobby"
	CmdUnwatchLobby = "unwatchLobby"
	CmdWatchMatch   = "watchMatch"
	CmdUnwatchMatch = "unwatchMatch"
	CmdPing         = "ping"
)

// 服务端 -> 客户端的推送类型
const (
	PushChallenge = "challenge"
	PushLobby     = "lobby"
	PushMatch     = "match"
	PushPresence  = "presence"
	PushPong      = "pong"
	PushError     = "error"
)

// Command 是客户端发来的一条指令
type Command struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	MatchID string `json:"matchId,omitempty"`
}

// Push 是推送给客户端的一条消息。Payload 为 nil 表示被观察的记录已删除。
type Push struct {
	Type    string      `json:"type"`
	Code    string      `json:"code,omitempty"`
	MatchID string      `json:"matchId,omitempty"`
	Payload interface{} `json:"payload"`
	Message string      `json:"message,omitempty"`
}

func encodePush(p Push) ([]byte, error) {
	return json.Marshal(p)
}

func watchKey(kind, id string) string { return kind + ":" + id }
