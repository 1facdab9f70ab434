package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinfolio/backend/internal/db"
)

type memoryStore struct {
	mu        sync.Mutex
	entries   []db.Activity
	failWrite error
	lastLimit int
}

func (m *memoryStore) Create(_ context.Context, a *db.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	a.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *a)
	return nil
}

func (m *memoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]db.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit

	var out []db.Activity
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func TestService_RecordAndList(t *testing.T) {
	store := &memoryStore{}
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	user, other := uuid.New(), uuid.New()

	svc.Record(ctx, user, ActionLogin, nil)
	svc.Record(ctx, other, ActionLogin, nil)
	svc.Record(ctx, user, ActionHoldingAdded, map[string]any{"coin_id": "btc-bitcoin", "amount": "1.5"})

	entries, err := svc.List(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionHoldingAdded, entries[0].Action)
	assert.Equal(t, ActionLogin, entries[1].Action)
	assert.JSONEq(t, `{}`, string(entries[1].Details))

	var details map[string]string
	require.NoError(t, json.Unmarshal(entries[0].Details, &details))
	assert.Equal(t, "btc-bitcoin", details["coin_id"])
	assert.Equal(t, DefaultListLimit, store.lastLimit)
}

func TestService_RecordSwallowsStoreErrors(t *testing.T) {
	store := &memoryStore{failWrite: errors.New("db down")}
	svc := NewService(store)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), uuid.New(), ActionLogout, nil)
	})
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, DefaultListLimit, ClampLimit(-5))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxListLimit, ClampLimit(1000))
}
