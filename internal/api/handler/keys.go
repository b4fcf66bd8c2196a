package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/store"
)

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

var knownScopes = map[string]bool{middleware.ScopeRead: true, middleware.ScopeWrite: true, middleware.ScopeAdmin: true}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears only in this response.
func NewCreateKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		for _, s := range req.Scopes {
			if !knownScopes[s] {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown scope "+s, nil)
				return
			}
		}

		key, raw, err := middleware.GenerateKey(tenantID, req.Name, req.Scopes)
		if err != nil {
			slog.Error("generating api key", "error", err)
			internalError(w)
			return
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "KEY_EXISTS", "A key with this name already exists", nil)
				return
			}
			slog.Error("creating api key", "error", err)
			internalError(w)
			return
		}
		response.Created(w, createKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		list, err := keys.ListAPIKeys(r.Context(), tenantID)
		if err != nil {
			slog.Error("listing api keys", "error", err)
			internalError(w)
			return
		}
		response.JSON(w, list)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		keyID, ok := uuidParam(w, r, "keyID", "INVALID_KEY_ID")
		if !ok {
			return
		}
		if err := keys.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			slog.Error("revoking api key", "error", err)
			internalError(w)
			return
		}
		response.JSON(w, map[string]any{"id": keyID, "revoked": true})
	}
}
