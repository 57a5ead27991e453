package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"puzzle-duel/internal/domain"
	"puzzle-duel/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxDisplayNameLength = 64

// Session 是一次访客会话：不透明的用户 ID、显示名和签名后的 token
type Session struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}

// AuthService 负责访客身份的发放和显示名查询。
type AuthService struct {
	profileRepo repository.ProfileRepository
	jwtSecret   []byte        // 存储密钥的字节形式
	jwtExpiry   time.Duration // JWT 过期时间
	now         func() time.Time
}

// NewAuthService 创建 AuthService 实例。
// jwtSecretKey 应从安全配置中获取。
func NewAuthService(profileRepo repository.ProfileRepository, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if profileRepo == nil {
		panic("ProfileRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24 // 默认 24 小时
	}
	return &AuthService{
		profileRepo: profileRepo,
		jwtSecret:   []byte(jwtSecretKey),
		jwtExpiry:   time.Duration(jwtExpiryHours) * time.Hour,
		now:         time.Now,
	}, nil
}

// StartSession 为访客分配新的用户 ID，保存资料并签发 token。
func (s *AuthService) StartSession(ctx context.Context, displayName string) (*Session, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
		return nil, ErrInvalidInput
	}

	profile := &domain.Profile{ID: uuid.NewString(), DisplayName: name}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": profile.ID, "display_name": name})

	if err := s.profileRepo.Save(ctx, profile); err != nil {
		logCtx.WithError(err).Error("Failed to save guest profile")
		return nil, ErrInternalServer
	}

	token, err := s.generateJWT(profile.ID, profile.DisplayName)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token for guest session")
		return nil, ErrInternalServer
	}

	logCtx.Info("Guest session started")
	return &Session{UserID: profile.ID, DisplayName: profile.DisplayName, Token: token}, nil
}

// DisplayName 查询用户的显示名
func (s *AuthService) DisplayName(ctx context.Context, userID string) (string, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return "", ErrProfileNotFound
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to look up profile")
		return "", ErrInternalServer
	}
	if profile == nil {
		return "", ErrProfileNotFound
	}
	return profile.DisplayName, nil
}

// generateJWT 为指定用户生成 JWT Token
func (s *AuthService) generateJWT(userID, displayName string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"name":    displayName,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
