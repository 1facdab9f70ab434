package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinfolio/backend/internal/db"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(ctx, user, false, SessionMeta{UserAgent: "test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(DefaultSessionTTL), issued.ExpiresAt)

	identity, err := env.svc.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, issued.ExpiresAt, identity.ExpiresAt)
}

func TestIssue_StoresOnlyHash(t *testing.T) {
	env := newTestEnv()
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	env.sessions.mu.Lock()
	defer env.sessions.mu.Unlock()
	require.Len(t, env.sessions.byHash, 1)
	for hash, s := range env.sessions.byHash {
		assert.Equal(t, hashToken(issued.Token), hash)
		assert.NotEqual(t, issued.Token, s.TokenHash)
	}
}

func TestIssue_RememberMeUsesLongTTL(t *testing.T) {
	env := newTestEnv()
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, true, SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(DefaultRememberTTL), issued.ExpiresAt)

	env.clock.Advance(DefaultSessionTTL + time.Hour)
	_, err = env.svc.Verify(context.Background(), issued.Token)
	assert.NoError(t, err, "remembered session outlives the default TTL")
}

func TestIssue_DistinctTokensSameSecond(t *testing.T) {
	env := newTestEnv()
	user := env.seedUser("alice@example.com", "password123")

	a, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)
	b, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.Equal(t, 2, env.sessions.count())
}

func TestVerify_RejectionsAreIndistinguishable(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	user := env.seedUser("alice@example.com", "password123")

	revoked, err := env.svc.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)
	require.NoError(t, env.svc.Revoke(ctx, revoked.Token))

	other := NewService(env.users, env.sessions, Config{Secret: "a-different-secret-entirely-0123456789", Now: env.clock.Now})
	foreign, err := other.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: user.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(env.clock.Now().Add(time.Hour)),
		},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	ghost := env.seedUser("ghost@example.com", "password123")
	orphan, err := env.svc.Issue(ctx, ghost, false, SessionMeta{})
	require.NoError(t, err)
	env.users.delete(ghost.ID)

	valid, err := env.svc.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)
	tampered := valid.Token[:len(valid.Token)-2] + "xx"

	tokens := map[string]string{
		"garbage":       "not-a-jwt",
		"empty":         "",
		"revoked":       revoked.Token,
		"wrong secret":  foreign.Token,
		"alg none":      none,
		"deleted user":  orphan.Token,
		"bad signature": tampered,
	}
	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Verify(ctx, token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, ErrUnauthenticated.Error(), err.Error())
		})
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	env := newTestEnv()
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	env.clock.Advance(DefaultSessionTTL)
	_, err = env.svc.Verify(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerify_StorageFailureIsNotARejection(t *testing.T) {
	env := newTestEnv()
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	env.sessions.err = errors.New("connection refused")
	_, err = env.svc.Verify(context.Background(), issued.Token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	env := newTestEnv()
	assert.NoError(t, env.svc.Revoke(context.Background(), "never-issued"))
}

func TestRegisterLoginScenario(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	reg, err := env.svc.Register(ctx, "Alice@Example.com", "password123", "alice", SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	assert.NotEmpty(t, reg.Token)

	login, err := env.svc.Login(ctx, "alice@example.com", "password123", false, SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)

	_, err = env.svc.Login(ctx, "alice@example.com", "wrong-password", false, SessionMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, "nobody@example.com", "password123", false, SessionMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Register(ctx, "alice@example.com", "password456", "alice2", SessionMeta{})
	assert.ErrorIs(t, err, db.ErrEmailExists)
}

func TestChangePassword_RevokesOtherSessions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	user := env.seedUser("alice@example.com", "password123")

	old, err := env.svc.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)

	_, err = env.svc.ChangePassword(ctx, user.ID, "wrong", "newpassword1", SessionMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := env.svc.ChangePassword(ctx, user.ID, "password123", "newpassword1", SessionMeta{})
	require.NoError(t, err)

	_, err = env.svc.Verify(ctx, old.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = env.svc.Verify(ctx, resp.Token)
	assert.NoError(t, err)

	_, err = env.svc.Login(ctx, "alice@example.com", "newpassword1", false, SessionMeta{})
	assert.NoError(t, err)
}

func TestPurgeExpired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	user := env.seedUser("alice@example.com", "password123")

	_, err := env.svc.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)
	_, err = env.svc.Issue(ctx, user, true, SessionMeta{})
	require.NoError(t, err)

	env.clock.Advance(DefaultSessionTTL + time.Minute)
	n, err := env.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, env.sessions.count())
}

func TestRevokeAll(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	user := env.seedUser("alice@example.com", "password123")
	other := env.seedUser("bob@example.com", "password123")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Issue(ctx, user, false, SessionMeta{})
		require.NoError(t, err)
	}
	kept, err := env.svc.Issue(ctx, other, false, SessionMeta{})
	require.NoError(t, err)

	n, err := env.svc.RevokeAll(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = env.svc.Verify(ctx, kept.Token)
	assert.NoError(t, err)
}

