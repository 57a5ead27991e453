package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/service"
)

// MatchHandler 封装了对局相关的 HTTP 处理逻辑
type MatchHandler struct {
	matches *service.MatchService
}

// NewMatchHandler 创建 MatchHandler 实例
func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	if matches == nil {
		panic("MatchService cannot be nil for MatchHandler")
	}
	return &MatchHandler{matches: matches}
}

// CreateMatchRequest 定义创建对局的请求体。
// MatchID 为空时由服务端生成；只有一名玩家时为单人对局。
type CreateMatchRequest struct {
	MatchID   string   `json:"matchId"`
	LobbyCode string   `json:"lobbyCode"`
	Players   []string `json:"players"`
}

// CreateMatch 处理 POST /api/matches
func (h *MatchHandler) CreateMatch(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	var req CreateMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	lobbyCode := service.NormalizeCode(req.LobbyCode)
	matchID := req.MatchID
	if matchID == "" {
		matchID = service.NewMatchID(lobbyCode, time.Now())
	}
	players := req.Players
	if len(players) == 0 {
		players = []string{userID}
	}

	if !containsPlayer(players, userID) {
		HandleServiceError(c, service.ErrNotParticipant)
		return
	}

	ctx := c.Request.Context()
	var match *domain.Match
	var err error
	if len(players) == 1 && lobbyCode == "" {
		match, err = h.matches.CreateSoloMatch(ctx, matchID, userID)
	} else {
		match, err = h.matches.CreateMatch(ctx, matchID, lobbyCode, players)
	}
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, match)
}

// ReadMatch 处理 GET /api/matches/:id
func (h *MatchHandler) ReadMatch(c *gin.Context) {
	match, err := h.matches.ReadMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, match)
}

// MoveRequest 定义落子请求体
type MoveRequest struct {
	Row   *int `json:"row" binding:"required"`
	Col   *int `json:"col" binding:"required"`
	Value int  `json:"value" binding:"required"`
}

// MakeMove 处理 POST /api/matches/:id/moves。
// 格子已被填时返回 200 且 applied=false，而不是错误。
func (h *MatchHandler) MakeMove(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	applied, err := h.matches.MakeMove(c.Request.Context(), c.Param("id"), userID, *req.Row, *req.Col, req.Value)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"applied": applied})
}

// ReadCell 处理 GET /api/matches/:id/cells/:row/:col。空格返回 {"cell": null}。
func (h *MatchHandler) ReadCell(c *gin.Context) {
	row, errRow := strconv.Atoi(c.Param("row"))
	col, errCol := strconv.Atoi(c.Param("col"))
	if errRow != nil || errCol != nil {
		ErrorResponse(c, http.StatusBadRequest, "row and col must be integers")
		return
	}
	cell, err := h.matches.ReadCell(c.Request.Context(), c.Param("id"), row, col)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"cell": cell})
}

// ScoreRequest 定义更新分数的请求体
type ScoreRequest struct {
	Score *int `json:"score" binding:"required"`
}

// UpdateScore 处理 PUT /api/matches/:id/score，只能写自己的分数
func (h *MatchHandler) UpdateScore(c *gin.Context) {
	userID, _, ok := requireUser(c)
	if !ok {
		return
	}
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.matches.UpdateScore(c.Request.Context(), c.Param("id"), userID, *req.Score); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FinishMatch 处理 POST /api/matches/:id/finish，重复调用是安全的
func (h *MatchHandler) FinishMatch(c *gin.Context) {
	if _, _, ok := requireUser(c); !ok {
		return
	}
	if err := h.matches.FinishMatch(c.Request.Context(), c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func containsPlayer(players []string, userID string) bool {
	for _, p := range players {
		if p == userID {
			return true
		}
	}
	return false
}
