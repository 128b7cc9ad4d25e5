package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/gestock-pos/internal/session"
)

// Bearer переносит токен из заголовка Authorization в контекст запроса.
// Запрос без токена пропускается: бэк-офис сам решит, нужен ли он.
// Просроченный или повреждённый токен отклоняется с 401.
func Bearer(now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			token = strings.TrimSpace(token)

			if _, err := session.Inspect(token, now()); err != nil {
				if errors.Is(err, session.ErrTokenExpired) {
					http.Error(w, "token expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithToken(r.Context(), token)))
		})
	}
}
