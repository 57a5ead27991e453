package domain

// ChallengeType 是收件箱条目的类型，目前只有挑战
const ChallengeType = "challenge"

// ChallengeStatus 挑战状态
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeAccepted ChallengeStatus = "accepted"
	ChallengeDeclined ChallengeStatus = "declined"
)

// Challenge 是 notifications/{to}/{from} 下的临时记录。
// 同一 (to, from) 只保留最后一次发送。
type Challenge struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	FromName  string          `json:"fromName"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"`
	Status    ChallengeStatus `json:"status"`
	RoomCode  string          `json:"roomCode,omitempty"`
}

// InboxPath 返回用户收件箱路径，字段名为发送者 ID
func InboxPath(userID string) string { return "notifications/" + userID }

// InboxRoot 所有收件箱的父路径
const InboxRoot = "notifications"
