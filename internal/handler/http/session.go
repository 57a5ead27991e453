package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"puzzle-duel/internal/service"
)

// SessionHandler 发放访客身份
type SessionHandler struct {
	authService *service.AuthService
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(authService *service.AuthService) *SessionHandler {
	if authService == nil {
		panic("AuthService cannot be nil for SessionHandler")
	}
	return &SessionHandler{authService: authService}
}

// StartSessionRequest 定义创建会话的请求体
type StartSessionRequest struct {
	DisplayName string `json:"displayName" binding:"required,max=64"`
}

// StartSession 处理 POST /api/session
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	session, err := h.authService.StartSession(c.Request.Context(), req.DisplayName)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, session)
}
