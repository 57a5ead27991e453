package service

import (
	"errors"

	"puzzle-duel/internal/repository"
)

var (
	// NotFound
	ErrLobbyNotFound   = errors.New("lobby not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrProfileNotFound = errors.New("profile not found")

	// Conflict
	ErrLobbyFull     = errors.New("lobby is full")
	ErrMatchExists   = errors.New("match id already in use")
	ErrMatchFinished = errors.New("match already finished")

	ErrNotParticipant       = errors.New("user is not a participant of this match")
	ErrInvalidMove          = errors.New("invalid move")
	ErrInvalidInput         = errors.New("invalid input")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInternalServer       = errors.New("internal server error")
)

// mapRepoError 将仓库层的 "未找到" 映射为调用方给出的业务错误，其余错误原样返回。
// Redis 传输错误由客户端自身的重试策略处理，这里不再包装。
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return err
}
