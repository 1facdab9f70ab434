package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Activity struct {
	ID        int64
	UserID    uuid.UUID
	Action    string
	Details   json.RawMessage
	CreatedAt time.Time
}

type ActivityRepository struct {
	db *DB
}

func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create appends an entry and sets its generated id
func (r *ActivityRepository) Create(ctx context.Context, a *Activity) error {
	details := a.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO activity_log (user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query, a.UserID, a.Action, string(details), a.CreatedAt).Scan(&a.ID)
}

func (r *ActivityRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Activity, error) {
	query := `
		SELECT id, user_id, action, details, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Activity{}
	for rows.Next() {
		var a Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Details = json.RawMessage(details)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
