// utils/auth.go
package utils

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by AuthMiddleware.
const (
	OperatorIDKey    = "operatorId"
	OperatorEmailKey = "operatorEmail"
)

// AuthMiddleware accepts HS256 bearer tokens issued by the auth provider.
// The token subject identifies the operator.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header required"})
			return
		}

		if len(tokenString) > 7 && strings.ToUpper(tokenString[0:6]) == "BEARER" {
			tokenString = tokenString[7:]
		}

		if secret == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authentication is not configured"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token claims"})
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set(OperatorIDKey, sub)
		if email, ok := claims["email"].(string); ok {
			c.Set(OperatorEmailKey, email)
		}

		c.Next()
	}
}

// OperatorID returns the authenticated operator, or "" outside AuthMiddleware.
func OperatorID(c *gin.Context) string {
	return c.GetString(OperatorIDKey)
}
