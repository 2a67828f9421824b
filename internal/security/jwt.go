// Package security provides admin credential hashing and session tokens.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the JWT claims carried by admin session tokens.
type AdminClaims struct {
	AdminID uint64 `json:"admin_id"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs a session token for the admin ID.
func IssueAdminToken(secret string, adminID uint64, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: empty jwt secret")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	now := time.Now().UTC()
	claims := AdminClaims{
		AdminID: adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseAdminToken validates a session token and returns its claims.
func ParseAdminToken(secret, raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, errParse := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("security: unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil {
		return nil, errParse
	}
	if !token.Valid || claims.AdminID == 0 {
		return nil, errors.New("security: invalid token")
	}
	return claims, nil
}
