package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrCoinNotFound = errors.New("coin not found")

// Coin caches provider metadata for coins that appear in portfolios
type Coin struct {
	ID        string
	Name      string
	Symbol    string
	Rank      int
	LogoURL   string
	UpdatedAt time.Time
}

type CoinRepository struct {
	db *DB
}

func NewCoinRepository(db *DB) *CoinRepository {
	return &CoinRepository{db: db}
}

func (r *CoinRepository) Upsert(ctx context.Context, c *Coin) error {
	query := `
		INSERT INTO coins (id, name, symbol, rank, logo_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			rank = EXCLUDED.rank,
			logo_url = EXCLUDED.logo_url,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Symbol, c.Rank, c.LogoURL, c.UpdatedAt)
	return err
}

func (r *CoinRepository) GetByID(ctx context.Context, id string) (*Coin, error) {
	query := `
		SELECT id, name, symbol, rank, logo_url, updated_at
		FROM coins
		WHERE id = $1
	`

	c := &Coin{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Symbol, &c.Rank, &c.LogoURL, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCoinNotFound
		}
		return nil, err
	}
	return c, nil
}
