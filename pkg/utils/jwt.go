package utils

import (
	"errors"
	"fmt"
	"go-annotation-service/pkg/config"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func jwtSecret() []byte {
	return []byte(config.GlobalConfig.JWT.Secret)
}

// 会话令牌声明 登录态请求携带
type Claims struct {
	UserID    uint   `json:"user_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// 链接跨会话声明 把一次链接校验的结果绑定到后续请求
type LinkSessionClaims struct {
	LinkToken string `json:"link_token"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// 生成会话JWT令牌
func GenerateToken(userID uint, sessionID string) (string, error) {
	claims := Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.GlobalConfig.JWT.Expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// 解析会话JWT令牌
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// 生成链接跨会话令牌 链接口令校验成功后签发
func GenerateLinkSession(linkToken, sessionID string) (string, error) {
	claims := LinkSessionClaims{
		LinkToken: linkToken,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.GlobalConfig.JWT.Expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// 校验链接跨会话令牌是否属于该链接
func ValidateLinkSession(tokenString, linkToken string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &LinkSessionClaims{}, keyFunc)
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(*LinkSessionClaims)
	return ok && claims.LinkToken == linkToken
}

func keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return jwtSecret(), nil
}
