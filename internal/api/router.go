package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/tree"
)

// NewRouter creates the /api router. authEnabled controls whether the Bearer token is
// enforced. events, if non-nil, is mounted at GET /events behind the same auth.
func NewRouter(svc *service.Service, store *chunkstore.Store, tm *tree.Manager, authEnabled bool, token string, events http.Handler) chi.Router {
	h := NewHandler(svc, store, tm)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/retrieve", h.Retrieve)
	r.Post("/insights", h.StoreInsights)
	r.Get("/chunks/{id}", h.GetChunk)

	r.Get("/stats", h.Stats)
	r.Get("/tree", h.ValidateTree)
	r.Post("/tree/repair", h.RepairTree)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}
	return r
}
