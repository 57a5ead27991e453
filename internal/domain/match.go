package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BoardSize 棋盘边长，行列下标范围为 [0, BoardSize)
const BoardSize = 9

// Cell values accepted on the board.
const (
	MinCellValue = 1
	MaxCellValue = 9
)

// MatchStatus 表示对局状态
type MatchStatus string

const (
	MatchActive   MatchStatus = "active"
	MatchFinished MatchStatus = "finished"
)

// Hash field names of a match record.
const (
	MatchFieldLobbyCode  = "lobbyCode"
	MatchFieldPlayers    = "players"
	MatchFieldStatus     = "status"
	MatchFieldCreatedAt  = "createdAt"
	MatchFieldFinishedAt = "finishedAt"
	MatchCellPrefix      = "cells."
	MatchScorePrefix     = "scores."
)

// Cell 是一个已被填写的格子。每个格子最多写入一次。
type Cell struct {
	Value     int    `json:"value"`
	FilledBy  string `json:"filledBy"`
	Timestamp int64  `json:"timestamp"`
}

// Match 是一局比赛的实时状态
type Match struct {
	ID         string          `json:"matchId"`
	LobbyCode  string          `json:"lobbyCode"`
	Players    []string        `json:"players"`
	Cells      map[string]Cell `json:"cells"`
	Scores     map[string]int  `json:"scores"`
	Status     MatchStatus     `json:"status"`
	CreatedAt  int64           `json:"createdAt"`
	FinishedAt int64           `json:"finishedAt,omitempty"`
}

// MatchPath 返回对局在共享存储中的路径
func MatchPath(matchID string) string { return "matches/" + matchID }

// CellKey 将坐标格式化为 "r_c"
func CellKey(row, col int) string { return fmt.Sprintf("%d_%d", row, col) }

// CellField 返回格子对应的 hash 字段名
func CellField(row, col int) string { return MatchCellPrefix + CellKey(row, col) }

// ScoreField 返回玩家分数对应的 hash 字段名
func ScoreField(userID string) string { return MatchScorePrefix + userID }

// InBounds 判断坐标是否落在棋盘内
func InBounds(row, col int) bool {
	return row >= 0 && row < BoardSize && col >= 0 && col < BoardSize
}

// HasPlayer 判断用户是否为对局参与者
func (m *Match) HasPlayer(userID string) bool {
	for _, p := range m.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// FilledCount 返回已填写的格子数
func (m *Match) FilledCount() int { return len(m.Cells) }

// BoardComplete 棋盘是否已填满
func (m *Match) BoardComplete() bool { return len(m.Cells) >= BoardSize*BoardSize }

// Winner 返回得分最高的玩家，平局时返回空字符串
func (m *Match) Winner() string {
	winner, best, tie := "", 0, false
	for _, p := range m.Players {
		score := m.Scores[p]
		switch {
		case winner == "" || score > best:
			winner, best, tie = p, score, false
		case score == best:
			tie = true
		}
	}
	if tie {
		return ""
	}
	return winner
}

// PlayersFromField 解析 players 字段 (JSON 数组)
func PlayersFromField(raw string) ([]string, error) {
	var players []string
	if raw == "" {
		return players, nil
	}
	if err := json.Unmarshal([]byte(raw), &players); err != nil {
		return nil, fmt.Errorf("invalid players field: %w", err)
	}
	return players, nil
}

// MatchFromFields 从存储的 hash 字段还原 Match
func MatchFromFields(matchID string, fields map[string]string) (*Match, error) {
	players, err := PlayersFromField(fields[MatchFieldPlayers])
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}
	match := &Match{
		ID:        matchID,
		LobbyCode: fields[MatchFieldLobbyCode],
		Players:   players,
		Status:    MatchStatus(fields[MatchFieldStatus]),
		Cells:     make(map[string]Cell),
		Scores:    make(map[string]int),
	}
	if match.CreatedAt, err = parseTimestamp(fields[MatchFieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("match %s: invalid createdAt: %w", matchID, err)
	}
	if match.FinishedAt, err = parseTimestamp(fields[MatchFieldFinishedAt]); err != nil {
		return nil, fmt.Errorf("match %s: invalid finishedAt: %w", matchID, err)
	}
	for field, raw := range fields {
		switch {
		case strings.HasPrefix(field, MatchCellPrefix):
			var c Cell
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				return nil, fmt.Errorf("match %s: invalid cell %s: %w", matchID, field, err)
			}
			match.Cells[strings.TrimPrefix(field, MatchCellPrefix)] = c
		case strings.HasPrefix(field, MatchScorePrefix):
			score, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("match %s: invalid score %s: %w", matchID, field, err)
			}
			match.Scores[strings.TrimPrefix(field, MatchScorePrefix)] = score
		}
	}
	return match, nil
}

func parseTimestamp(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
