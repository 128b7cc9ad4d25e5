// Package session переносит токен кассира через context и проверяет срок его действия.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired возвращается, если срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrMalformedToken возвращается, если строку нельзя разобрать как JWT.
	ErrMalformedToken = errors.New("malformed token")
)

type ctxKey struct{}

// WithToken сохраняет bearer-токен в контексте.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// TokenFromContext возвращает bearer-токен из контекста.
func TokenFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxKey{})
	token, ok := v.(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// Claims содержит поля токена, нужные кассе.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Inspect разбирает токен без проверки подписи и сверяет срок действия с now.
// Подпись проверяет бэк-офис.
func Inspect(token string, now time.Time) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	res := &Claims{}
	if v, ok := mc["user_id"]; ok && v != nil {
		switch id := v.(type) {
		case float64:
			res.UserID = fmt.Sprintf("%.0f", id)
		default:
			res.UserID = fmt.Sprint(id)
		}
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp != nil {
		res.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return res, ErrTokenExpired
		}
	}

	return res, nil
}
