package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/config"
	"golang.org/x/crypto/bcrypt"
)

const (
	ClientKey      = "client"
	AdminKeyHeader = "X-Admin-Key"
)

// SessionKey is the cache key that keeps a stream token alive.
func SessionKey(token string) string { return "session:" + token }

// tokenFrom reads a Bearer header or, for EventSource clients that cannot
// set headers, the token query parameter.
func tokenFrom(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// StreamAuth validates a stream token and checks its session in the cache.
func StreamAuth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := tokenFrom(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil || claims.Scope != ScopeStream {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(ClientKey, claims.Client)
		ctx.Next()
	}
}

// AdminKey guards the control API with the X-Admin-Key header. key is
// either the plain shared key or its bcrypt hash. An empty key disables the
// routes (503) so the server cannot run unprotected by accident.
func AdminKey(key string) gin.HandlerFunc {
	hashed := strings.HasPrefix(key, "$2")
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		var ok bool
		if hashed {
			ok = got != "" && bcrypt.CompareHashAndPassword([]byte(key), []byte(got)) == nil
		} else {
			ok = subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ClientKey, "admin")
		c.Next()
	}
}

// GetClient retrieves the authenticated client name from the Gin context.
func GetClient(c *gin.Context) string {
	if v, exists := c.Get(ClientKey); exists {
		return v.(string)
	}
	return ""
}
