package middleware

import (
	"net/http"

	"github.com/mmeshcher/delivery-system/internal/model"
)

// RequireRoles возвращает middleware, пропускающий только принципалов с одной из указанных ролей.
// Проверка роли выполняется декларативно до вызова обработчика.
func RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipalFromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}

			if _, ok := allowed[p.Role]; !ok {
				writeMessage(w, http.StatusForbidden, "Access denied.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
