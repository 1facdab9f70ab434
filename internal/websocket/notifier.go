package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceUpdate is one refreshed price in a prices_refreshed message
type PriceUpdate struct {
	CoinID string          `json:"coin_id"`
	Price  decimal.Decimal `json:"price"`
}

// AlertEvent is the payload of an alert_triggered message
type AlertEvent struct {
	AlertID     uuid.UUID       `json:"alert_id"`
	CoinID      string          `json:"coin_id"`
	Condition   string          `json:"condition"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Price       decimal.Decimal `json:"price"`
	TriggeredAt time.Time       `json:"triggered_at"`
}

// Notifier pushes domain events to a user's connections.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a notifier backed by hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// PricesRefreshed tells a user which of their coins got new prices.
func (n *Notifier) PricesRefreshed(userID uuid.UUID, prices []PriceUpdate, at time.Time) {
	n.hub.Send(&Message{
		Type:   TypePricesRefreshed,
		UserID: userID,
		Data: map[string]any{
			"prices":       prices,
			"refreshed_at": at,
		},
	})
}

// AlertTriggered tells a user that one of their alerts fired.
func (n *Notifier) AlertTriggered(userID uuid.UUID, event AlertEvent) {
	n.hub.Send(&Message{Type: TypeAlertTriggered, UserID: userID, Data: event})
}

// HasConnectedClients checks if a user has any active websocket connections.
func (n *Notifier) HasConnectedClients(userID uuid.UUID) bool {
	return n.hub.ClientCount(userID) > 0
}
