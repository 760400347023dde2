package middleware

import (
	"errors"
	"net/http"
	"strings"

	"lesionlog/internal/api/respond"
	"lesionlog/internal/model"
	"lesionlog/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// SessionVerifier 校验会话令牌（token.Manager 实现）。
type SessionVerifier interface {
	ParseSession(tokenString string) (token.Principal, error)
}

// AuthMiddleware 校验 Bearer JWT 并将 principal 写入上下文。
func AuthMiddleware(tokens SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respond.Fail(c, http.StatusUnauthorized, "Access denied. No token provided")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			respond.Fail(c, http.StatusUnauthorized, "Invalid authorization header")
			return
		}

		p, err := tokens.ParseSession(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, token.ErrExpired) {
				msg = "Token expired"
			}
			respond.Fail(c, http.StatusUnauthorized, msg)
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// RequireRole 只放行指定角色，必须挂在 AuthMiddleware 之后。
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			respond.Fail(c, http.StatusUnauthorized, "Access denied. No token provided")
			return
		}
		for _, r := range roles {
			if strings.EqualFold(p.Role, string(r)) {
				c.Next()
				return
			}
		}
		respond.Fail(c, http.StatusForbidden, "Access denied. Insufficient permissions")
	}
}

// SetPrincipal 写入当前请求的身份。
func SetPrincipal(c *gin.Context, p token.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom 读取当前请求的身份。
func PrincipalFrom(c *gin.Context) (token.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return token.Principal{}, false
	}
	p, ok := v.(token.Principal)
	return p, ok
}
