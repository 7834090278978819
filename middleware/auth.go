package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/host"
)

const playerKey = "player"

// SessionKey is the cache key that keeps token alive. Deleting it revokes the
// token before it expires.
func SessionKey(token string) string { return "session:" + token }

// PlayerAuth validates the Bearer token and checks that its session is still
// registered in the cache under the same player id.
func PlayerAuth(secret string, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(token, secret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		owner, err := c.Get(cacheCtx, SessionKey(token))
		if err != nil || owner != claims.PlayerID {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(playerKey, claims.Player())
		ctx.Next()
	}
}

// GetPlayer returns the authenticated player, if any.
func GetPlayer(c *gin.Context) (host.Player, bool) {
	v, ok := c.Get(playerKey)
	if !ok {
		return host.Player{}, false
	}
	p, ok := v.(host.Player)
	return p, ok
}

// PlayerID returns the authenticated player id or "".
func PlayerID(c *gin.Context) string {
	p, _ := GetPlayer(c)
	return p.ID
}
