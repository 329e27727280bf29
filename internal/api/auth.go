package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"order-gateway/pkg/i18n"
)

const clientContextKey = "ClientID"

// ClientClaims identifies the order-entry client behind a token.
type ClientClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for clientID.
func GenerateToken(clientID, secret string, expiresAt time.Time) (string, error) {
	claims := ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ClientClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*ClientClaims); ok && token.Valid {
		return claims.ClientID, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for order entry.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": i18n.M().Unauthorized,
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": i18n.M().Unauthorized,
			})
			return
		}

		clientID, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": i18n.M().Unauthorized,
			})
			return
		}

		c.Set(clientContextKey, clientID)
		c.Next()
	}
}

// CurrentClientID returns the authenticated client from context.
func CurrentClientID(c *gin.Context) string {
	if v, ok := c.Get(clientContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}
