package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"puzzle-duel/internal/service"
)

// ChallengeHandler 封装了挑战握手相关的 HTTP 处理逻辑。
// 挑战的接收通过 WebSocket 推送完成。
type ChallengeHandler struct {
	challenges *service.ChallengeService
}

// NewChallengeHandler 创建 ChallengeHandler 实例
func NewChallengeHandler(challenges *service.ChallengeService) *ChallengeHandler {
	if challenges == nil {
		panic("ChallengeService cannot be nil for ChallengeHandler")
	}
	return &ChallengeHandler{challenges: challenges}
}

// SendChallengeRequest 定义发起挑战的请求体
type SendChallengeRequest struct {
	To string `json:"to" binding:"required"`
}

// Send 处理 POST /api/challenges
func (h *ChallengeHandler) Send(c *gin.Context) {
	userID, name, ok := requireUser(c)
	if !ok {
		return
	}
	var req SendChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.challenges.Send(c.Request.Context(), userID, name, req.To); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Accept 处理 POST /api/challenges/:from/accept，返回新房间的房间码
func (h *ChallengeHandler) Accept(c *gin.Context) {
	userID, name, ok := requireUser(c)
	if !ok {
		return
	}
	code, err := h.challenges.Accept(c.Request.Context(), userID, name, c.Param("from"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"code": code})
}

// Decline 处理 POST /api/challenges/:from/decline
func (h *ChallengeHandler) Decline(c *gin.Context) {
	userID, name, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.challenges.Decline(c.Request.Context(), userID, name, c.Param("from")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
