package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coinfolio/backend/internal/db"
)

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*db.User
	err  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[uuid.UUID]*db.User)}
}

func (f *fakeUsers) Create(_ context.Context, user *db.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == user.Email {
			return db.ErrEmailExists
		}
	}
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return db.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

func (f *fakeUsers) delete(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

type fakeSessions struct {
	mu     sync.Mutex
	byHash map[string]*db.Session
	err    error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byHash: make(map[string]*db.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *db.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byHash[s.TokenHash]; exists {
		return errors.New("duplicate token hash")
	}
	cp := *s
	f.byHash[s.TokenHash] = &cp
	return nil
}

func (f *fakeSessions) GetActiveByHash(_ context.Context, hash string, now time.Time) (*db.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.byHash[hash]
	if !ok || !s.ExpiresAt.After(now) {
		return nil, db.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) DeleteByHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byHash[hash]; !ok {
		return db.ErrSessionNotFound
	}
	delete(f.byHash, hash)
	return nil
}

func (f *fakeSessions) DeleteAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, s := range f.byHash {
		if s.UserID == userID {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, s := range f.byHash {
		if !s.ExpiresAt.After(now) {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byHash)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testSecret = "test-secret-with-enough-entropy-0123456789"

type testEnv struct {
	svc      *Service
	users    *fakeUsers
	sessions *fakeSessions
	clock    *testClock
}

func newTestEnv() *testEnv {
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	users := newFakeUsers()
	sessions := newFakeSessions()
	svc := NewService(users, sessions, Config{
		Secret:     testSecret,
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	})
	return &testEnv{svc: svc, users: users, sessions: sessions, clock: clock}
}

// seedUser stores a user with the given password
func (e *testEnv) seedUser(email, password string) *db.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	now := e.clock.Now()
	u := &db.User{ID: uuid.New(), Email: email, Username: "tester", PasswordHash: string(hash), CreatedAt: now, UpdatedAt: now}
	if err := e.users.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}
