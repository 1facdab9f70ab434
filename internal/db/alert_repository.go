package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	CoinID      string
	Condition   string
	TargetPrice decimal.Decimal
	Active      bool
	TriggeredAt *time.Time
	CreatedAt   time.Time
}

type AlertRepository struct {
	db *DB
}

func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, user_id, coin_id, condition, target_price, active, triggered_at, created_at`

func (r *AlertRepository) Create(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.CoinID, a.Condition, a.TargetPrice, a.Active, a.TriggeredAt, a.CreatedAt,
	)
	return err
}

func (r *AlertRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListActive returns every alert that has not fired yet
func (r *AlertRepository) ListActive(ctx context.Context) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE active ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *AlertRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// MarkTriggered deactivates an active alert. It reports false when the
// alert was already triggered, so each alert fires at most once.
func (r *AlertRepository) MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET active = FALSE, triggered_at = $1
		WHERE id = $2 AND active
	`

	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *AlertRepository) list(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.CoinID, &a.Condition, &a.TargetPrice, &a.Active, &a.TriggeredAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
