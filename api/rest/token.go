package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/config"
	mw "github.com/kasuganosora/eventvm/middleware"
)

// TokenHandler issues and revokes stream tokens.
type TokenHandler struct {
	cache cache.Cache
	sec   config.SecurityConfig
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(c cache.Cache, sec config.SecurityConfig) *TokenHandler {
	return &TokenHandler{cache: c, sec: sec}
}

func clientOf(c *gin.Context) string { return mw.GetClient(c) }

func (h *TokenHandler) ttl() time.Duration {
	if h.sec.JWTTTLH <= 0 {
		return time.Hour
	}
	return h.sec.JWTTTLH
}

type tokenRequest struct {
	Client string `json:"client" binding:"required,min=1,max=64"`
}

// Issue signs a stream token and opens its session.
// POST /api/admin/stream-token {"client": name}
func (h *TokenHandler) Issue(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := h.ttl()
	token, err := mw.GenerateToken(req.Client, mw.ScopeStream, h.sec.JWTSecret, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), req.Client, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
}

// Revoke closes a stream token's session.
// DELETE /api/admin/stream-token {"token": jwt}
func (h *TokenHandler) Revoke(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Del(ctx, mw.SessionKey(req.Token)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Refresh rotates the calling stream token: a new token is issued for the
// same client and the old session is closed.
// POST /api/stream/refresh (StreamAuth)
func (h *TokenHandler) Refresh(c *gin.Context) {
	old := c.Query("token")
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		old = strings.TrimPrefix(header, "Bearer ")
	}
	client := mw.GetClient(c)
	ttl := h.ttl()
	token, err := mw.GenerateToken(client, mw.ScopeStream, h.sec.JWTSecret, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), client, ttl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	_ = h.cache.Del(ctx, mw.SessionKey(old))
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
}
