package alerts

import (
	"net/http"

	"github.com/google/uuid"

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

// List handles GET /api/v1/alerts
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	alerts, err := h.service.List(r.Context(), user.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"alerts": alerts})
	return nil
}

// Create handles POST /api/v1/alerts
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	var req CreateRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	alert, err := h.service.Create(r.Context(), user.UserID, req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, alert)
	return nil
}

// Delete handles DELETE /api/v1/alerts/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return apperrors.ValidationError("invalid alert id")
	}

	if err := h.service.Delete(r.Context(), user.UserID, id); err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"id":      id,
		"deleted": true,
	})
	return nil
}
