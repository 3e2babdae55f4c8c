package middleware

import (
	"net/http"

	"github.com/technoprod/backend-gestion/internal/tenant"
)

// RequireSociete ensures a societe identifier exists in the request context.
// Every business route is tenant-scoped; requests without a resolvable societe
// are rejected before touching any service.
func RequireSociete(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.From(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"SOCIETE_REQUIRED","message":"societe is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
