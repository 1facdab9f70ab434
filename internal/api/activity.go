package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/auth"
	apperrors "github.com/coinfolio/backend/internal/errors"
)

// ActivityLister is the read side of the activity log
type ActivityLister interface {
	List(ctx context.Context, userID uuid.UUID, limit int) ([]activity.Entry, error)
}

type ActivityHandlers struct {
	activity ActivityLister
}

func NewActivityHandlers(lister ActivityLister) *ActivityHandlers {
	return &ActivityHandlers{activity: lister}
}

type ActivityListResponse struct {
	Entries []activity.Entry `json:"entries"`
	Limit   int              `json:"limit"`
}

// List handles GET /api/v1/activity?limit=
func (h *ActivityHandlers) List(w http.ResponseWriter, r *http.Request) error {
	user, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return apperrors.ValidationError("limit must be a positive integer")
		}
	}
	limit = activity.ClampLimit(limit)

	entries, err := h.activity.List(r.Context(), user.UserID, limit)
	if err != nil {
		return apperrors.DatabaseError("failed to load activity").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, ActivityListResponse{
		Entries: entries,
		Limit:   limit,
	})
	return nil
}
