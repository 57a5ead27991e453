package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"puzzle-duel/internal/service"
)

// PresenceHandler 提供在线列表快照和显式下线。持续的在线推送走 WebSocket。
type PresenceHandler struct {
	presence *service.PresenceService
}

// NewPresenceHandler 创建 PresenceHandler 实例
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	if presence == nil {
		panic("PresenceService cannot be nil for PresenceHandler")
	}
	return &PresenceHandler{presence: presence}
}

// List 处理 GET /api/presence
func (h *PresenceHandler) List(c *gin.Context) {
	list, err := h.presence.Snapshot(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

// Clear 处理 DELETE /api/presence
func (h *PresenceHandler) Clear(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.presence.Clear(c.Request.Context(), userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
