package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"contactbook/internal/api/auth"
	"contactbook/internal/model"

	"github.com/gin-gonic/gin"
)

// UserKey gin 上下文中当前用户的键。
const UserKey = "user"

// Resolver 将 bearer token 解析为用户。
type Resolver interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.User, error)
}

// AuthMiddleware 校验 Authorization: Bearer <token> 并将用户写入上下文。
func AuthMiddleware(resolver Resolver, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		user, err := resolver.CurrentUser(c.Request.Context(), tokenStr)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				if logger != nil {
					logger.Error("resolve current user failed", slog.String("error", err.Error()))
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			unauthorized(c)
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// CurrentUser 返回 AuthMiddleware 写入的用户，未认证时为 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
}
