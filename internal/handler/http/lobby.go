package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"puzzle-duel/internal/service"
)

// LobbyHandler 封装了房间和再来一局投票相关的 HTTP 处理逻辑
type LobbyHandler struct {
	lobbies *service.LobbyService
	rematch *service.RematchService
}

// NewLobbyHandler 创建 LobbyHandler 实例
func NewLobbyHandler(lobbies *service.LobbyService, rematch *service.RematchService) *LobbyHandler {
	if lobbies == nil || rematch == nil {
		panic("LobbyService and RematchService cannot be nil for LobbyHandler")
	}
	return &LobbyHandler{lobbies: lobbies, rematch: rematch}
}

// CreateRoom 处理 POST /api/lobbies
func (h *LobbyHandler) CreateRoom(c *gin.Context) {
	userID, name, ok := requireUser(c)
	if !ok {
		return
	}
	code, err := h.lobbies.CreateRoom(c.Request.Context(), userID, name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"code": code})
}

// JoinRoom 处理 POST /api/lobbies/:code/join
func (h *LobbyHandler) JoinRoom(c *gin.Context) {
	userID, name, ok := requireUser(c)
	if !ok {
		return
	}
	lobby, err := h.lobbies.JoinRoom(c.Request.Context(), c.Param("code"), userID, name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, lobby)
}

// RemovePlayer 处理 DELETE /api/lobbies/:code/players/:userId。
// 玩家可以自己离开，房主可以移除其他玩家。
func (h *LobbyHandler) RemovePlayer(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	code, target := c.Param("code"), c.Param("userId")
	ctx := c.Request.Context()

	if target != userID {
		lobby, err := h.lobbies.ReadLobby(ctx, code)
		if err != nil {
			HandleServiceError(c, err)
			return
		}
		if lobby.Host != userID {
			logrus.WithFields(logrus.Fields{"lobby_code": code, "user_id": userID, "target": target}).
				Warn("Non-host attempted to remove another player")
			HandleServiceError(c, service.ErrPermissionDenied)
			return
		}
	}
	if err := h.lobbies.RemovePlayer(ctx, code, target); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadLobby 处理 GET /api/lobbies/:code
func (h *LobbyHandler) ReadLobby(c *gin.Context) {
	lobby, err := h.lobbies.ReadLobby(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, lobby)
}

// VoteRequest 定义投票请求体
type VoteRequest struct {
	Vote *bool `json:"vote" binding:"required"`
}

// VoteRematch 处理 PUT /api/lobbies/:code/votes
func (h *LobbyHandler) VoteRematch(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.rematch.VoteRematch(c.Request.Context(), c.Param("code"), userID, *req.Vote); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadVotes 处理 GET /api/lobbies/:code/votes
func (h *LobbyHandler) ReadVotes(c *gin.Context) {
	votes, err := h.rematch.ReadVotes(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, votes)
}

// StartRematch 处理 POST /api/lobbies/:code/rematch。
// 未达成一致时返回 409，客户端可以继续等待投票变化。
func (h *LobbyHandler) StartRematch(c *gin.Context) {
	if _, _, ok := requireUser(c); !ok {
		return
	}
	match, started, err := h.rematch.StartRematch(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if !started {
		ErrorResponse(c, http.StatusConflict, "rematch consensus not reached")
		return
	}
	SuccessResponse(c, http.StatusCreated, match)
}
