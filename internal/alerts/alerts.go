package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/db"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/validators"
	"github.com/coinfolio/backend/internal/websocket"
)

const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

type Store interface {
	Create(ctx context.Context, a *db.Alert) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Alert, error)
	ListActive(ctx context.Context) ([]db.Alert, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type CoinLookup interface {
	GetCoinInfo(ctx context.Context, coinID string) (*market.CoinInfo, error)
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action string, details map[string]any)
}

type Notifier interface {
	AlertTriggered(userID uuid.UUID, event websocket.AlertEvent)
}

// Preferences tells whether a user wants push notifications
type Preferences interface {
	NotificationsEnabled(ctx context.Context, userID uuid.UUID) bool
}

type Counter interface {
	AddCounter(name string, delta uint64)
}

type Alert struct {
	ID          uuid.UUID       `json:"id"`
	CoinID      string          `json:"coin_id"`
	Condition   string          `json:"condition"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Active      bool            `json:"active"`
	TriggeredAt *time.Time      `json:"triggered_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CreateRequest struct {
	CoinID      string          `json:"coin_id"`
	Condition   string          `json:"condition"`
	TargetPrice decimal.Decimal `json:"target_price"`
}

type Options struct {
	Store       Store
	Coins       CoinLookup
	Activity    ActivityRecorder
	Notifier    Notifier
	Preferences Preferences
	Metrics     Counter
	Now         func() time.Time
}

type Service struct {
	store       Store
	coins       CoinLookup
	activity    ActivityRecorder
	notifier    Notifier
	preferences Preferences
	metrics     Counter
	log         *logger.Logger
	now         func() time.Time
}

func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       opts.Store,
		coins:       opts.Coins,
		activity:    opts.Activity,
		notifier:    opts.Notifier,
		preferences: opts.Preferences,
		metrics:     opts.Metrics,
		log:         logger.Default().WithComponent("alerts"),
		now:         now,
	}
}

// Met reports whether price satisfies the alert condition. Reaching the
// target counts.
func Met(condition string, target, price decimal.Decimal) bool {
	switch condition {
	case ConditionAbove:
		return price.GreaterThanOrEqual(target)
	case ConditionBelow:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Alert, error) {
	v := validators.New()
	v.Check(market.ValidCoinID(req.CoinID), "coin_id", "coin_id is invalid")
	validators.OneOf(v, "condition", req.Condition, ConditionAbove, ConditionBelow)
	validators.Positive(v, "target_price", req.TargetPrice)
	if err := v.Err(); err != nil {
		return nil, err
	}

	if _, err := s.coins.GetCoinInfo(ctx, req.CoinID); err != nil {
		return nil, market.ToAppError(err, req.CoinID)
	}

	a := &db.Alert{
		ID:          uuid.New(),
		UserID:      userID,
		CoinID:      req.CoinID,
		Condition:   req.Condition,
		TargetPrice: req.TargetPrice,
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, apperrors.DatabaseError("failed to create alert").WithCause(err)
	}

	s.record(ctx, userID, activity.ActionAlertCreated, map[string]any{
		"alert_id":     a.ID.String(),
		"coin_id":      a.CoinID,
		"condition":    a.Condition,
		"target_price": a.TargetPrice.String(),
	})

	view := toAlert(*a)
	return &view, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	rows, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load alerts").WithCause(err)
	}
	out := make([]Alert, 0, len(rows))
	for _, a := range rows {
		out = append(out, toAlert(a))
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, db.ErrAlertNotFound) {
			return apperrors.AlertNotFound()
		}
		return apperrors.DatabaseError("failed to delete alert").WithCause(err)
	}
	s.record(ctx, userID, activity.ActionAlertDeleted, map[string]any{"alert_id": id.String()})
	return nil
}

// WatchedCoinIDs returns the coins that have at least one active alert
func (s *Service) WatchedCoinIDs(ctx context.Context) ([]string, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(active))
	ids := make([]string, 0, len(active))
	for _, a := range active {
		if !seen[a.CoinID] {
			seen[a.CoinID] = true
			ids = append(ids, a.CoinID)
		}
	}
	return ids, nil
}

// Evaluate fires every active alert whose condition holds at prices. An
// alert fires at most once; it is deactivated when it fires. It returns the
// number of alerts fired.
func (s *Service) Evaluate(ctx context.Context, prices map[string]decimal.Decimal) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, a := range active {
		price, ok := prices[a.CoinID]
		if !ok || price.IsZero() || !Met(a.Condition, a.TargetPrice, price) {
			continue
		}

		at := s.now().UTC()
		won, err := s.store.MarkTriggered(ctx, a.ID, at)
		if err != nil {
			if ctx.Err() != nil {
				return fired, ctx.Err()
			}
			s.log.Warn(ctx, "failed to mark alert triggered", map[string]any{"alert_id": a.ID.String(), "cause": err.Error()})
			continue
		}
		// Another evaluation already fired it
		if !won {
			continue
		}
		fired++

		s.record(ctx, a.UserID, activity.ActionAlertTriggered, map[string]any{
			"alert_id":     a.ID.String(),
			"coin_id":      a.CoinID,
			"condition":    a.Condition,
			"target_price": a.TargetPrice.String(),
			"price":        price.String(),
		})

		if s.notifier != nil && s.wantsNotifications(ctx, a.UserID) {
			s.notifier.AlertTriggered(a.UserID, websocket.AlertEvent{
				AlertID:     a.ID,
				CoinID:      a.CoinID,
				Condition:   a.Condition,
				TargetPrice: a.TargetPrice,
				Price:       price,
				TriggeredAt: at,
			})
		}
	}

	if fired > 0 && s.metrics != nil {
		s.metrics.AddCounter("alerts_triggered", uint64(fired))
	}
	return fired, nil
}

func (s *Service) wantsNotifications(ctx context.Context, userID uuid.UUID) bool {
	if s.preferences == nil {
		return true
	}
	return s.preferences.NotificationsEnabled(ctx, userID)
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, action string, details map[string]any) {
	if s.activity != nil {
		s.activity.Record(ctx, userID, action, details)
	}
}

func toAlert(a db.Alert) Alert {
	return Alert{
		ID:          a.ID,
		CoinID:      a.CoinID,
		Condition:   a.Condition,
		TargetPrice: a.TargetPrice,
		Active:      a.Active,
		TriggeredAt: a.TriggeredAt,
		CreatedAt:   a.CreatedAt,
	}
}
