// Package middleware содержит HTTP middleware сервиса доставки.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/delivery-system/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const tokenTTL = 24 * time.Hour

// Principal описывает аутентифицированного пользователя запроса.
type Principal struct {
	UserID int64
	Role   model.Role
}

// AuthMiddleware выполняет проверку аутентификации по bearer-токену.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware проверяет заголовок Authorization и добавляет принципала в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}

		p, err := a.parseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken выпускает подписанный bearer-токен для указанного пользователя.
func (a *AuthMiddleware) IssueToken(userID int64, role model.Role) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

func (a *AuthMiddleware) parseToken(tokenStr string) (*Principal, error) {
	claims := &tokenClaims{}

	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errors.New("invalid subject claim")
	}

	role := model.Role(claims.Role)
	if !model.IsValidRole(role) {
		return nil, errors.New("invalid role claim")
	}

	return &Principal{UserID: userID, Role: role}, nil
}

// GetPrincipalFromContext извлекает принципала из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
