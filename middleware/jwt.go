package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kasuganosora/guilds/server/host"
)

// Claims is the JWT payload of a player session.
type Claims struct {
	PlayerID string `json:"pid"`
	Name     string `json:"name"`
	Admin    bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Player returns the player the token was issued for.
func (c *Claims) Player() host.Player {
	return host.Player{ID: c.PlayerID, Name: c.Name, Admin: c.Admin}
}

// GenerateToken signs a session token for p.
func GenerateToken(p host.Player, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := &Claims{
		PlayerID: p.ID,
		Name:     p.Name,
		Admin:    p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenStr and returns its claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.PlayerID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
