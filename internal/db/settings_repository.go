package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSettingsNotFound = errors.New("settings not found")

type Settings struct {
	UserID               uuid.UUID
	Currency             string
	Theme                string
	NotificationsEnabled bool
	UpdatedAt            time.Time
}

type SettingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, userID uuid.UUID) (*Settings, error) {
	query := `
		SELECT user_id, currency, theme, notifications_enabled, updated_at
		FROM settings
		WHERE user_id = $1
	`

	s := &Settings{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.Currency, &s.Theme, &s.NotificationsEnabled, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SettingsRepository) Upsert(ctx context.Context, s *Settings) error {
	query := `
		INSERT INTO settings (user_id, currency, theme, notifications_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			theme = EXCLUDED.theme,
			notifications_enabled = EXCLUDED.notifications_enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, s.UserID, s.Currency, s.Theme, s.NotificationsEnabled, s.UpdatedAt)
	return err
}
