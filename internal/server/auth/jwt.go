// Package auth issues and verifies the HS256 bearer tokens presented to the
// HTTP ingress by trusted collaborators: the payment-notification verifier,
// the payment page and the web front end acting for a user or an admin.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens.
const (
	RoleVerifier    = "verifier"
	RolePaymentPage = "payment_page"
	RoleUser        = "user"
	RoleAdmin       = "admin"
)

// Claims carries the standard claims plus the caller's role and, for user
// and admin tokens, the account the caller acts as.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	UserID   int64  `json:"uid,omitempty"`
	UserName string `json:"uname,omitempty"`
}

func GenerateToken(claims Claims, secretKey []byte, validityDuration time.Duration) (string, error) {
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(validityDuration))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Role == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
