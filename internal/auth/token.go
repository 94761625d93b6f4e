package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	UserID         uint   `json:"uid"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	Type           string `json:"type"`
	RefreshTokenID string `json:"refreshTokenId,omitempty"`
	jwt.RegisteredClaims
}

var ErrWrongTokenType = errors.New("wrong token type")

// GenerateAccessToken 签发短时 access token，只依赖签名和过期时间，不落库。
func GenerateAccessToken(u models.User, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Type:     TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateRefreshToken 签发长时 refresh token，内嵌服务端生成的随机 id，
// 该 id 只用于撤销跟踪，token 本身仍靠签名保护。
func GenerateRefreshToken(u models.User, tokenID, secret string, ttlDays int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         u.ID,
		Email:          u.Email,
		Username:       u.Username,
		Type:           TypeRefresh,
		RefreshTokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlDays) * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	// 即使密钥配置错误导致两种 token 用同一个密钥签名，type 不符也必须拒绝
	if claims.Type != wantType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ParseAccessToken 校验 access token。校验失败是正常分支而不是服务端错误，
// 调用方拿到 (nil, err) 后按 401 处理即可。
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	return parseToken(tokenStr, secret, TypeAccess)
}

// ParseRefreshToken 校验 refresh token，签名和过期之外还要求 type=refresh。
func ParseRefreshToken(tokenStr, secret string) (*Claims, error) {
	return parseToken(tokenStr, secret, TypeRefresh)
}

// GenerateRefreshTokenID 生成 256 位随机 id（hex 编码 64 字符）。
func GenerateRefreshTokenID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
