// Package identity 將請求憑證解析為已驗證的用戶 ID。
// 引擎信任解析結果，所有後續授權只看成員資格.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dm-gateway/internal/constants"
	"dm-gateway/internal/errs"
)

// Resolver 憑證解析接口.
type Resolver interface {
	// Resolve 驗證憑證並回傳用戶 ID，無效憑證回報 ErrUnauthorized.
	Resolve(token string) (string, error)
}

// JWTResolver 基於 HS256 JWT 的解析器.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver 創建 JWT 解析器。issuer 非空時要求 token 的 iss 相符.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Resolve 驗證 JWT 簽章與時效，回傳 sub 作為用戶 ID.
func (r *JWTResolver) Resolve(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errs.ErrUnauthorized
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errs.ErrUnauthorized
	}

	if r.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != r.issuer {
			return "", errs.ErrUnauthorized
		}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" || len(subject) > constants.MaxUserIDLength {
		return "", errs.ErrUnauthorized
	}
	return subject, nil
}

// Issue 簽發一個 JWT，開發與測試工具用.
func (r *JWTResolver) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if r.issuer != "" {
		claims["iss"] = r.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}
