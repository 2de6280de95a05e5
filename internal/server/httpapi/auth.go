package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const (
	roleVerifier    = auth.RoleVerifier
	rolePaymentPage = auth.RolePaymentPage
	roleUser        = auth.RoleUser
	roleAdmin       = auth.RoleAdmin
)

const claimsKey = "claims"

// requireRole rejects requests without a valid bearer token for one of
// roles.
func (s *Server) requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := auth.ParseToken(token, s.jwtSecret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, common.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if !slices.Contains(roles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return &auth.Claims{}
	}
	return v.(*auth.Claims)
}

// actor names the caller in audit lines.
func actor(cl *auth.Claims) string {
	if cl.UserName != "" {
		return cl.UserName
	}
	return cl.Role
}
