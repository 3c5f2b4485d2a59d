package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/tree"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc   *service.Service
	store *chunkstore.Store
	tree  *tree.Manager
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service, store *chunkstore.Store, tm *tree.Manager) *Handler {
	return &Handler{svc: svc, store: store, tree: tm}
}

// Retrieve handles POST /api/retrieve.
//
//	@Summary		Retrieve ranked chunks, optionally appended to instructions
//	@Tags			retrieval
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RetrieveRequest	true	"Prompt or explicit query"
//	@Success		200		{object}	EnhanceResult
//	@Success		200		{object}	ChunksResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/retrieve [post]
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	if strings.TrimSpace(req.Prompt) != "" || strings.TrimSpace(req.Instructions) != "" {
		writeJSON(w, http.StatusOK, h.svc.Enhance(r.Context(), service.EnhanceRequest{
			Prompt:       req.Prompt,
			Instructions: req.Instructions,
			Limit:        req.Limit,
		}))
		return
	}
	chunks, err := h.store.Retrieve(r.Context(), req.Keywords, req.Categories, req.Limit)
	if errors.Is(err, apperr.ErrNoQuery) {
		writeJSON(w, http.StatusBadRequest, errorBody("prompt, keywords or categories are required"))
		return
	}
	if err != nil {
		h.storeError(w, "retrieve", err)
		return
	}
	if chunks == nil {
		chunks = []models.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, ChunksResponse{Chunks: chunks})
}

// StoreInsights handles POST /api/insights.
//
//	@Summary		Queue insights for storage
//	@Tags			storage
//	@Accept			json
//	@Produce		json
//	@Param			body	body		InsightsRequest	true	"Text to extract from, or insights"
//	@Success		202		{object}	InsightsResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/insights [post]
func (h *Handler) StoreInsights(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req InsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	hasText := strings.TrimSpace(req.Text) != ""
	if hasText == (len(req.Insights) > 0) {
		writeJSON(w, http.StatusBadRequest, errorBody("exactly one of text or insights is required"))
		return
	}
	if req.Source != "" && !req.Source.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("source must be user_prompt or reasoning_stream"))
		return
	}

	if hasText {
		res := h.svc.Capture(r.Context(), service.CaptureRequest{Text: req.Text, Context: req.Context, Source: req.Source})
		if !res.Success {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(res.Summary+": "+res.Error))
			return
		}
		writeJSON(w, http.StatusAccepted, InsightsResponse{TaskID: res.TaskID, Extracted: res.Extracted, Summary: res.Summary})
		return
	}

	task, err := h.store.Store(r.Context(), req.Insights, req.Source)
	if err != nil {
		h.storeError(w, "store", err)
		return
	}
	writeJSON(w, http.StatusAccepted, InsightsResponse{TaskID: task.ID, Extracted: len(req.Insights)})
}

// Stats handles GET /api/stats.
//
//	@Summary		Index and tree statistics
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	ts, err := h.tree.Stats()
	if err != nil {
		slog.Error("tree stats failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Root: h.tree.Root(), Index: h.store.Stats(), Tree: ts})
}

// GetChunk handles GET /api/chunks/{id}.
//
//	@Summary		Get an indexed chunk by id
//	@Tags			retrieval
//	@Produce		json
//	@Param			id	path		string	true	"Chunk id"
//	@Success		200	{object}	models.Chunk
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chunks/{id} [get]
func (h *Handler) GetChunk(w http.ResponseWriter, r *http.Request) {
	c, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody(apperr.ErrNotFound.Error()))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ValidateTree handles GET /api/tree.
//
//	@Summary		Validate the directory tree
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	tree.Validation
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) ValidateTree(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tree.ValidateTree())
}

// RepairTree handles POST /api/tree/repair.
//
//	@Summary		Create missing directories
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	RepairResponse
//	@Security		BearerAuth
//	@Router			/tree/repair [post]
func (h *Handler) RepairTree(w http.ResponseWriter, _ *http.Request) {
	repaired := h.tree.RepairTree(nil)
	writeJSON(w, http.StatusOK, RepairResponse{Repaired: repaired, Validation: h.tree.ValidateTree()})
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotInitialized):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("store not initialized"))
	case errors.Is(err, chunkstore.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("store is shutting down"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
