package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"fitchat/internal/models"
	"fitchat/internal/ws"
)

type tokenResolver interface {
	GetUsername(token string) (string, error)
}

type API struct {
	auth tokenResolver
}

func New(auth tokenResolver) *API {
	return &API{auth: auth}
}

type ctxKey struct{}

func usernameFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

func (a *API) getToken(r *http.Request) string {
	return ws.BearerToken(r)
}

// RequireAuth rejects requests without a live bearer token and passes the
// token holder's username down in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := a.auth.GetUsername(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, username)))
	}
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.Me{Username: usernameFrom(r.Context())}); err != nil {
		log.Printf("failed to encode me response: %v", err)
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.APIResponse{Success: true, Message: "ok"}); err != nil {
		log.Printf("failed to encode health response: %v", err)
	}
}
