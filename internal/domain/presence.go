package domain

// PresenceRoot 在线记录的父路径
const PresenceRoot = "presence"

// Presence 记录存在即表示在线
type Presence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	ConnectedAt int64  `json:"connectedAt"`
}

// PresencePath 返回用户在线记录路径
func PresencePath(userID string) string { return PresenceRoot + "/" + userID }
