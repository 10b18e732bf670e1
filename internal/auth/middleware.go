package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sparkgate/sparkgate/internal/account"
)

type contextKey int

const accountContextKey contextKey = iota

// ContextWithAccount returns a new context carrying the given account.
func ContextWithAccount(ctx context.Context, a *account.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, a)
}

// AccountFromContext extracts the account from the context, or nil if not
// present.
func AccountFromContext(ctx context.Context) *account.Account {
	a, _ := ctx.Value(accountContextKey).(*account.Account)
	return a
}

// Middleware returns middleware that authenticates requests using an API key
// in the Authorization header. The key is hashed and looked up via the
// service's account store. On success the account is injected into the
// request context.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				if svc.mx != nil {
					svc.mx.IncAuthFailure("api_key")
				}
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			hash := HashKey(token)
			a, err := svc.store.GetByKeyHash(r.Context(), hash)
			if err != nil || a == nil {
				if svc.mx != nil {
					svc.mx.IncAuthFailure("api_key")
				}
				writeUnauthorized(w, "invalid api key")
				return
			}

			if svc.mx != nil {
				svc.mx.IncAuthSuccess("api_key")
			}
			ctx := ContextWithAccount(r.Context(), a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
