package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrHoldingNotFound = errors.New("holding not found")

type Holding struct {
	UserID        uuid.UUID
	CoinID        string
	CoinName      string
	CoinSymbol    string
	Amount        decimal.Decimal
	PurchasePrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	CurrentValue  decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type HoldingRepository struct {
	db *DB
}

func NewHoldingRepository(db *DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// Upsert inserts a holding or, when the user already holds the coin, adds
// the amount and moves the purchase price to the amount-weighted average.
// h is updated with the stored row.
func (r *HoldingRepository) Upsert(ctx context.Context, h *Holding) error {
	query := `
		INSERT INTO holdings (user_id, coin_id, amount, purchase_price, current_price, current_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, coin_id) DO UPDATE SET
			purchase_price = (holdings.amount * holdings.purchase_price + EXCLUDED.amount * EXCLUDED.purchase_price)
				/ (holdings.amount + EXCLUDED.amount),
			amount = holdings.amount + EXCLUDED.amount,
			current_price = EXCLUDED.current_price,
			current_value = (holdings.amount + EXCLUDED.amount) * EXCLUDED.current_price,
			updated_at = EXCLUDED.updated_at
		RETURNING amount, purchase_price, current_price, current_value, created_at, updated_at
	`

	value := h.Amount.Mul(h.CurrentPrice)
	err := r.db.QueryRowContext(ctx, query,
		h.UserID, h.CoinID, h.Amount, h.PurchasePrice, h.CurrentPrice, value, h.UpdatedAt,
	).Scan(&h.Amount, &h.PurchasePrice, &h.CurrentPrice, &h.CurrentValue, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

func (r *HoldingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Holding, error) {
	query := `
		SELECT h.user_id, h.coin_id, COALESCE(c.name, ''), COALESCE(c.symbol, ''),
			h.amount, h.purchase_price, h.current_price, h.current_value, h.created_at, h.updated_at
		FROM holdings h
		LEFT JOIN coins c ON c.id = h.coin_id
		WHERE h.user_id = $1
		ORDER BY h.created_at, h.coin_id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings := []Holding{}
	for rows.Next() {
		var h Holding
		if err := rows.Scan(
			&h.UserID, &h.CoinID, &h.CoinName, &h.CoinSymbol,
			&h.Amount, &h.PurchasePrice, &h.CurrentPrice, &h.CurrentValue, &h.CreatedAt, &h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (r *HoldingRepository) Delete(ctx context.Context, userID uuid.UUID, coinID string) error {
	query := `DELETE FROM holdings WHERE user_id = $1 AND coin_id = $2`

	result, err := r.db.ExecContext(ctx, query, userID, coinID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

// UpdatePrices writes refreshed prices back for one user's holdings in a
// single transaction
func (r *HoldingRepository) UpdatePrices(ctx context.Context, userID uuid.UUID, prices map[string]decimal.Decimal, at time.Time) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE holdings
		SET current_price = $1, current_value = amount * $1, updated_at = $2
		WHERE user_id = $3 AND coin_id = $4
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for coinID, price := range prices {
		if _, err := stmt.ExecContext(ctx, price, at, userID, coinID); err != nil {
			return fmt.Errorf("update price for %s: %w", coinID, err)
		}
	}

	return tx.Commit()
}

// UpdateCoinPrice sets the current price of coinID in every portfolio
func (r *HoldingRepository) UpdateCoinPrice(ctx context.Context, coinID string, price decimal.Decimal, at time.Time) (int64, error) {
	query := `
		UPDATE holdings
		SET current_price = $1, current_value = amount * $1, updated_at = $2
		WHERE coin_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, price, at, coinID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HeldCoinIDs lists every coin held by at least one user
func (r *HoldingRepository) HeldCoinIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT coin_id FROM holdings ORDER BY coin_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HoldersOf returns the users holding coinID
func (r *HoldingRepository) HoldersOf(ctx context.Context, coinID string) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM holdings WHERE coin_id = $1`, coinID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
