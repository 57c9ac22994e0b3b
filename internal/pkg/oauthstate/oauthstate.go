package oauthstate

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateClaims OAuth授权跳转state载荷
// 回调时用于定位发起授权的客户端与目标环境
type StateClaims struct {
	ClientID    string `json:"client_id"`
	Environment string `json:"environment"`
	jwt.RegisteredClaims
}

const stateTTL = 15 * time.Minute

// Encode 签发state令牌（HS256）
func Encode(secret, clientID, environment string) (string, error) {
	claims := StateClaims{
		ClientID:    clientID,
		Environment: environment,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(stateTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Decode 校验并解析state令牌
func Decode(secret, tokenString string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("解析state失败: %w", err)
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("无效的state令牌")
	}
	if claims.ClientID == "" || claims.Environment == "" {
		return nil, fmt.Errorf("state载荷不完整")
	}

	return claims, nil
}
