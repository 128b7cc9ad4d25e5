// Package middleware содержит HTTP middleware кассового сервиса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const workflowIDKey contextKey = "workflowID"

const (
	workflowCookieName = "pos_workflow"
	workflowCookieTTL  = 12 * time.Hour
)

// WorkflowMiddleware привязывает запрос к кассовому сценарию по подписанному cookie.
type WorkflowMiddleware struct {
	secretKey []byte
}

// NewWorkflowMiddleware создаёт middleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: cookie перестанут действовать после перезапуска.
func NewWorkflowMiddleware(secret string) *WorkflowMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &WorkflowMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сценария и добавляет его идентификатор в контекст запроса.
func (m *WorkflowMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(workflowCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, ok := m.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), workflowIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetWorkflowCookie устанавливает cookie для указанного сценария.
func (m *WorkflowMiddleware) SetWorkflowCookie(w http.ResponseWriter, id uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     workflowCookieName,
		Value:    m.sign(id.String()),
		Path:     "/",
		Expires:  time.Now().Add(workflowCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearWorkflowCookie удаляет cookie сценария.
func (m *WorkflowMiddleware) ClearWorkflowCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     workflowCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *WorkflowMiddleware) sign(value string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(value))
	return value + "." + hex.EncodeToString(mac.Sum(nil))
}

func (m *WorkflowMiddleware) parseCookie(cookieValue string) (uuid.UUID, bool) {
	value, signature, found := strings.Cut(cookieValue, ".")
	if !found {
		return uuid.Nil, false
	}

	_, expected, _ := strings.Cut(m.sign(value), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}

// WorkflowIDFromContext извлекает идентификатор сценария из контекста запроса.
func WorkflowIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(workflowIDKey).(uuid.UUID)
	return id, ok
}
