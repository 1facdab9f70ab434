package portfolio

import (
	"bytes"
	"context"
	"encoding/csv"
	"time"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/activity"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/storage"
)

// ExportStore keeps exported files and hands out download links
type ExportStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignedURL(ctx context.Context, key, filename string) (string, error)
	Delete(ctx context.Context, key string) error
	URLExpiry() time.Duration
}

type ExportResult struct {
	URL           string    `json:"url"`
	Key           string    `json:"key"`
	Filename      string    `json:"filename"`
	HoldingsCount int       `json:"holdings_count"`
	ExpiresAt     time.Time `json:"expires_at"`
}

var csvHeader = []string{
	"coin_id", "coin_name", "coin_symbol", "amount", "purchase_price",
	"current_price", "current_value", "gain_loss", "gain_loss_percentage", "updated_at",
}

// Export writes the user's freshly valued portfolio as CSV to object
// storage and returns a presigned download link.
func (s *Service) Export(ctx context.Context, userID uuid.UUID) (*ExportResult, error) {
	if s.exports == nil {
		return nil, apperrors.ServiceUnavailable("portfolio export is not configured")
	}

	p, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	body, err := EncodeCSV(p.Holdings)
	if err != nil {
		return nil, apperrors.InternalError("failed to encode export").WithCause(err)
	}

	now := s.now().UTC()
	key := storage.ExportKey(userID, now)
	filename := "portfolio-" + now.Format("2006-01-02") + ".csv"

	if err := s.exports.Put(ctx, key, body, "text/csv"); err != nil {
		return nil, apperrors.StorageError("failed to store export").WithCause(err)
	}

	url, err := s.exports.PresignedURL(ctx, key, filename)
	if err != nil {
		if delErr := s.exports.Delete(ctx, key); delErr != nil {
			s.log.Warn(ctx, "failed to remove orphaned export", map[string]any{"key": key, "cause": delErr.Error()})
		}
		return nil, apperrors.StorageError("failed to create download link").WithCause(err)
	}

	s.record(ctx, userID, activity.ActionPortfolioExport, map[string]any{
		"key":      key,
		"holdings": len(p.Holdings),
	})

	return &ExportResult{
		URL:           url,
		Key:           key,
		Filename:      filename,
		HoldingsCount: len(p.Holdings),
		ExpiresAt:     now.Add(s.exports.URLExpiry()),
	}, nil
}

// EncodeCSV renders holdings with a header row
func EncodeCSV(holdings []Holding) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, h := range holdings {
		record := []string{
			h.CoinID,
			h.CoinName,
			h.CoinSymbol,
			h.Amount.String(),
			h.PurchasePrice.String(),
			h.CurrentPrice.String(),
			h.CurrentValue.String(),
			h.GainLoss.String(),
			h.GainLossPercentage.StringFixed(2),
			h.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
