package settings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/db"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/validators"
)

const (
	DefaultCurrency = "USD"
	DefaultTheme    = ThemeSystem

	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (*db.Settings, error)
	Upsert(ctx context.Context, s *db.Settings) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action string, details map[string]any)
}

type Settings struct {
	Currency             string     `json:"currency"`
	Theme                string     `json:"theme"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	UpdatedAt            *time.Time `json:"updated_at"`
}

// UpdateRequest changes only the fields that are present
type UpdateRequest struct {
	Currency             *string `json:"currency,omitempty"`
	Theme                *string `json:"theme,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

// Defaults are the settings of a user who never saved any
func Defaults() Settings {
	return Settings{
		Currency:             DefaultCurrency,
		Theme:                DefaultTheme,
		NotificationsEnabled: true,
	}
}

type Service struct {
	store    Store
	activity ActivityRecorder
	log      *logger.Logger
	now      func() time.Time
}

func NewService(store Store, recorder ActivityRecorder) *Service {
	return &Service{
		store:    store,
		activity: recorder,
		log:      logger.Default().WithComponent("settings"),
		now:      time.Now,
	}
}

// Get returns the user's settings, or the defaults when none were saved
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Settings, error) {
	row, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrSettingsNotFound) {
			d := Defaults()
			return &d, nil
		}
		return nil, apperrors.DatabaseError("failed to load settings").WithCause(err)
	}
	return toSettings(row), nil
}

func (s *Service) Update(ctx context.Context, userID uuid.UUID, req UpdateRequest) (*Settings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := *current
	changed := map[string]any{}
	if req.Currency != nil {
		next.Currency = *req.Currency
		changed["currency"] = *req.Currency
	}
	if req.Theme != nil {
		next.Theme = *req.Theme
		changed["theme"] = *req.Theme
	}
	if req.NotificationsEnabled != nil {
		next.NotificationsEnabled = *req.NotificationsEnabled
		changed["notifications_enabled"] = *req.NotificationsEnabled
	}

	v := validators.New()
	validators.OneOf(v, "currency", next.Currency, DefaultCurrency)
	validators.OneOf(v, "theme", next.Theme, ThemeLight, ThemeDark, ThemeSystem)
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := &db.Settings{
		UserID:               userID,
		Currency:             next.Currency,
		Theme:                next.Theme,
		NotificationsEnabled: next.NotificationsEnabled,
		UpdatedAt:            now,
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return nil, apperrors.DatabaseError("failed to save settings").WithCause(err)
	}

	if s.activity != nil && len(changed) > 0 {
		s.activity.Record(ctx, userID, activity.ActionSettingsUpdated, changed)
	}
	return toSettings(row), nil
}

// NotificationsEnabled reports whether the user accepts push notifications.
// Lookup failures count as enabled.
func (s *Service) NotificationsEnabled(ctx context.Context, userID uuid.UUID) bool {
	settings, err := s.Get(ctx, userID)
	if err != nil {
		s.log.Warn(ctx, "failed to load notification preference", map[string]any{"user_id": userID.String(), "cause": err.Error()})
		return true
	}
	return settings.NotificationsEnabled
}

func toSettings(row *db.Settings) *Settings {
	updated := row.UpdatedAt
	return &Settings{
		Currency:             row.Currency,
		Theme:                row.Theme,
		NotificationsEnabled: row.NotificationsEnabled,
		UpdatedAt:            &updated,
	}
}
