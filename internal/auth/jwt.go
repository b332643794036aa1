package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"friends-go/internal/config"
)

var (
	ErrTokenRevoked   = errors.New("JWT 已被吊销")
	ErrMissingSubject = errors.New("JWT 缺少 userId 声明")
)

// Claims are the bearer token claims issued by the account service.
type Claims struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID. Tokens are normally issued
// by the account service; this is used by the admin tool and tests.
func GenerateToken(userID uuid.UUID, username string, ttl time.Duration, authCfg config.AuthConfig) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    authCfg.JWTIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(authCfg.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("生成 JWT 失败: %w", err)
	}
	return tokenString, nil
}

// ParseToken verifies signature, expiry and issuer without consulting the blacklist.
func ParseToken(tokenString string, authCfg config.AuthConfig) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if authCfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(authCfg.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(authCfg.JWTSecretKey), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("解析或验证 JWT 失败: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("JWT 无效")
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// ValidateToken parses the token and, when blacklist is set, rejects revoked ones.
// Tokens without a jti cannot be revoked and skip the blacklist.
func ValidateToken(ctx context.Context, tokenString string, authCfg config.AuthConfig, blacklist TokenBlacklist) (*Claims, error) {
	claims, err := ParseToken(tokenString, authCfg)
	if err != nil {
		return nil, err
	}

	if blacklist != nil && claims.ID != "" {
		isRevoked, err := blacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("检查 Token 黑名单失败: %w", err)
		}
		if isRevoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}
