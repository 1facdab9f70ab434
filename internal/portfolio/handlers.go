package portfolio

import (
	"net/http"

	"github.com/coinfolio/backend/internal/auth"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/validators"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// List handles GET /api/v1/portfolio
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	p, err := h.service.List(r.Context(), user.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, p)
	return nil
}

// Add handles POST /api/v1/portfolio
func (h *Handlers) Add(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	var req AddRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	holding, err := h.service.Add(r.Context(), user.UserID, req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, holding)
	return nil
}

// Remove handles DELETE /api/v1/portfolio/{coin_id}
func (h *Handlers) Remove(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	coinID := r.PathValue("coin_id")
	if err := h.service.Remove(r.Context(), user.UserID, coinID); err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"coin_id": coinID,
		"removed": true,
	})
	return nil
}

// Export handles POST /api/v1/portfolio/export
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	result, err := h.service.Export(r.Context(), user.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, result)
	return nil
}
