package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxLobbyPlayers 一个房间最多容纳的玩家数
const MaxLobbyPlayers = 2

// LobbyStatus 表示房间所处的阶段
type LobbyStatus string

const (
	LobbyWaiting LobbyStatus = "waiting"
	LobbyFull    LobbyStatus = "full"
)

// Hash field names of a lobby record. Per-player entries use a prefix plus the user id.
const (
	LobbyFieldHost      = "host"
	LobbyFieldStatus    = "status"
	LobbyFieldCreatedAt = "createdAt"
	LobbyPlayerPrefix   = "players."
	LobbyVotePrefix     = "rematchVotes."
)

// LobbyPlayer 是房间中一个已占用的席位
type LobbyPlayer struct {
	DisplayName string `json:"name"`
	JoinedAt    int64  `json:"joinedAt"`
}

// RematchVote 是一个玩家对再来一局的投票
type RematchVote struct {
	Vote      bool  `json:"vote"`
	Timestamp int64 `json:"timestamp"`
}

// Lobby 是通过房间码寻址的赛前会话，最多两名玩家。
type Lobby struct {
	Code         string                 `json:"code"`
	Host         string                 `json:"host"`
	Players      map[string]LobbyPlayer `json:"players"`
	RematchVotes map[string]RematchVote `json:"rematchVotes"`
	Status       LobbyStatus            `json:"status"`
	CreatedAt    int64                  `json:"createdAt"`
}

// LobbyPath 返回房间在共享存储中的路径
func LobbyPath(code string) string { return "lobbies/" + code }

// PlayerCount 返回已占用的席位数
func (l *Lobby) PlayerCount() int { return len(l.Players) }

// HasPlayer 判断用户是否占有席位
func (l *Lobby) HasPlayer(userID string) bool {
	_, ok := l.Players[userID]
	return ok
}

// PlayerIDs 返回按加入时间排序的玩家 ID (时间相同则按 ID)
func (l *Lobby) PlayerIDs() []string {
	ids := make([]string, 0, len(l.Players))
	for id := range l.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := l.Players[ids[i]], l.Players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	return ids
}

// StatusFor 根据席位数推导房间状态
func StatusFor(playerCount int) LobbyStatus {
	if playerCount >= MaxLobbyPlayers {
		return LobbyFull
	}
	return LobbyWaiting
}

// LobbyFromFields 从存储的 hash 字段还原 Lobby
func LobbyFromFields(code string, fields map[string]string) (*Lobby, error) {
	lobby := &Lobby{
		Code:         code,
		Host:         fields[LobbyFieldHost],
		Status:       LobbyStatus(fields[LobbyFieldStatus]),
		Players:      make(map[string]LobbyPlayer),
		RematchVotes: make(map[string]RematchVote),
	}
	if v, ok := fields[LobbyFieldCreatedAt]; ok {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lobby %s: invalid createdAt %q: %w", code, v, err)
		}
		lobby.CreatedAt = ts
	}
	for field, raw := range fields {
		switch {
		case strings.HasPrefix(field, LobbyPlayerPrefix):
			var p LobbyPlayer
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("lobby %s: invalid player entry %s: %w", code, field, err)
			}
			lobby.Players[strings.TrimPrefix(field, LobbyPlayerPrefix)] = p
		case strings.HasPrefix(field, LobbyVotePrefix):
			var v RematchVote
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("lobby %s: invalid vote entry %s: %w", code, field, err)
			}
			lobby.RematchVotes[strings.TrimPrefix(field, LobbyVotePrefix)] = v
		}
	}
	return lobby, nil
}

// CountPlayerFields 统计原始字段中的席位数，供条件写入时使用
func CountPlayerFields(fields map[string]string) int {
	n := 0
	for field := range fields {
		if strings.HasPrefix(field, LobbyPlayerPrefix) {
			n++
		}
	}
	return n
}

// EncodeJSON 将值序列化为存储字段使用的字符串
func EncodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
