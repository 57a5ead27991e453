package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Gin 上下文中保存身份信息的 key
const (
	ContextUserID      = "user_id"
	ContextDisplayName = "display_name"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrMissingUser  = errors.New("token has no user_id")
)

// SessionClaims 是访客会话 token 携带的声明
type SessionClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Auth 返回校验会话 token 的 Gin 中间件。
// 浏览器的 WebSocket 握手无法携带自定义头，因此也接受 ?token= 查询参数。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}
	secret := []byte(jwtSecret)

	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			logrus.WithError(err).WithField("path", c.Request.URL.Path).Warn("Auth middleware: no usable token")
			abortUnauthorized(c, "Authorization token is required")
			return
		}

		claims, err := parseSessionToken(raw, secret)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"reason": rejectReason(err),
			}).WithError(err).Warn("Auth middleware: Invalid token")
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextDisplayName, claims.Name)
		logrus.WithField("user_id", claims.UserID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// CurrentUser 返回 Auth 中间件写入上下文的用户 ID 和显示名
func CurrentUser(c *gin.Context) (userID, displayName string, ok bool) {
	userID = c.GetString(ContextUserID)
	if userID == "" {
		return "", "", false
	}
	return userID, c.GetString(ContextDisplayName), true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// bearerToken 依次从 Authorization 头和 token 查询参数取 token
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", jwt.ErrTokenMalformed
	}
	return token, nil
}

// parseSessionToken 只接受 HMAC 签名，且必须带有字符串类型的 user_id
func parseSessionToken(raw string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}

func rejectReason(err error) string {
	var ve *jwt.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0:
		return "expired"
	case errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
		return "signature"
	case errors.Is(err, ErrMissingUser):
		return "claims"
	default:
		return "malformed"
	}
}
