package settings

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

// Get handles GET /api/v1/settings
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	settings, err := h.service.Get(r.Context(), user.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, settings)
	return nil
}

// Update handles PUT /api/v1/settings
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	var req UpdateRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	settings, err := h.service.Update(r.Context(), user.UserID, req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, settings)
	return nil
}
