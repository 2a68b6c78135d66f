package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the identity provider. The subject is the numeric user id.
type Claims struct {
	UserID int64  `json:"-"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("no bearer token")

// NewToken signs an HS256 token for userID. The service itself only verifies tokens;
// this is for operators and tests.
func NewToken(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	claims.UserID = userID
	return claims, nil
}

// claimsFromRequest returns nil claims and nil error when no Authorization header is sent.
func claimsFromRequest(c *gin.Context, secret string) (*Claims, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errNoToken
	}
	return ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
}
