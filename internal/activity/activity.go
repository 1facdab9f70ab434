package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/db"
	"github.com/coinfolio/backend/internal/logger"
)

// Actions recorded in the activity log
const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionLogoutAll       = "logout_all"
	ActionPasswordChanged = "password_changed"
	ActionHoldingAdded    = "holding_added"
	ActionHoldingRemoved  = "holding_removed"
	ActionPortfolioExport = "portfolio_exported"
	ActionAlertCreated    = "alert_created"
	ActionAlertDeleted    = "alert_deleted"
	ActionAlertTriggered  = "alert_triggered"
	ActionSettingsUpdated = "settings_updated"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Store interface {
	Create(ctx context.Context, a *db.Activity) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]db.Activity, error)
}

type Entry struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

type Service struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		log:   logger.Default().WithComponent("activity"),
		now:   time.Now,
	}
}

// Record appends an entry. The activity log is best effort: failures are
// logged and never reach the caller.
func (s *Service) Record(ctx context.Context, userID uuid.UUID, action string, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil || details == nil {
		raw = []byte(`{}`)
	}

	entry := &db.Activity{
		UserID:    userID,
		Action:    action,
		Details:   raw,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, entry); err != nil {
		s.log.Error(ctx, "failed to record activity", map[string]any{
			"user_id": userID.String(),
			"action":  action,
		}, err)
	}
}

// List returns the most recent entries, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]Entry, error) {
	rows, err := s.store.ListByUser(ctx, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:        r.ID,
			Action:    r.Action,
			Details:   r.Details,
			CreatedAt: r.CreatedAt,
		})
	}
	return entries, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
