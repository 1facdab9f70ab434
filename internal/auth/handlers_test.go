package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinfolio/backend/internal/activity"
	apperrors "github.com/coinfolio/backend/internal/errors"
)

type recordedAction struct {
	userID uuid.UUID
	action string
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (f *fakeRecorder) Record(_ context.Context, userID uuid.UUID, action string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, recordedAction{userID: userID, action: action})
}

func (f *fakeRecorder) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.actions))
	for _, a := range f.actions {
		out = append(out, a.action)
	}
	return out
}

// newAuthMux wires the auth routes the way the API router does
func newAuthMux(env *testEnv, recorder ActivityRecorder) *http.ServeMux {
	h := NewHandlers(env.svc, CookieConfig{Name: DefaultCookieName}, recorder)
	protect := Middleware(env.svc, DefaultCookieName)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", apperrors.HandleFunc(h.Register))
	mux.HandleFunc("POST /api/v1/auth/login", apperrors.HandleFunc(h.Login))
	mux.Handle("POST /api/v1/auth/logout", protect(apperrors.HandleFunc(h.Logout)))
	mux.Handle("POST /api/v1/auth/logout-all", protect(apperrors.HandleFunc(h.LogoutAll)))
	mux.Handle("GET /api/v1/auth/me", protect(apperrors.HandleFunc(h.Me)))
	mux.Handle("PUT /api/v1/auth/password", protect(apperrors.HandleFunc(h.ChangePassword)))
	return mux
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, mux http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func tokenOf(t *testing.T, env envelope) string {
	t.Helper()
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHandlers_RegisterLoginFlow(t *testing.T) {
	env := newTestEnv()
	recorder := &fakeRecorder{}
	mux := newAuthMux(env, recorder)

	w, resp := do(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"alice@example.com","password":"password123","username":"alice"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	tokenOf(t, resp)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	w, resp = do(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"alice@example.com","password":"password123","username":"alice"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeEmailExists, resp.Error.Code)

	w, resp = do(t, mux, http.MethodPost, "/api/v1/auth/login",
		`{"email":"alice@example.com","password":"wrong-password"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.CodeInvalidCredentials, resp.Error.Code)

	w, resp = do(t, mux, http.MethodPost, "/api/v1/auth/login",
		`{"email":"alice@example.com","password":"password123"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := tokenOf(t, resp)

	w, resp = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"email":"alice@example.com"`)

	assert.Equal(t, []string{activity.ActionRegister, activity.ActionLogin}, recorder.names())
}

func TestHandlers_RegisterValidation(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)

	w, resp := do(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"not-an-email","password":"short","username":"al"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidationError, resp.Error.Code)

	w, resp = do(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@example.com","password":"password123","username":"alice","admin":true}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

func TestMiddleware_MissingVersusInvalid(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)

	w, resp := do(t, mux, http.MethodGet, "/api/v1/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.CodeAuthRequired, resp.Error.Code)

	w, resp = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", "garbage")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeAuthInvalid, resp.Error.Code)
	assert.Equal(t, "invalid or expired session", resp.Error.Message)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_IdenticalBodiesForEveryRejection(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)
	user := env.seedUser("alice@example.com", "password123")
	ctx := context.Background()

	expired, err := env.svc.Issue(ctx, user, false, SessionMeta{})
	require.NoError(t, err)
	revoked, err := env.svc.Issue(ctx, user, true, SessionMeta{})
	require.NoError(t, err)
	require.NoError(t, env.svc.Revoke(ctx, revoked.Token))
	env.clock.Advance(DefaultSessionTTL + time.Second)

	bodies := map[string]string{}
	for name, token := range map[string]string{"garbage": "abc.def.ghi", "expired": expired.Token, "revoked": revoked.Token} {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code, name)
		bodies[name] = w.Body.String()
	}
	assert.Equal(t, bodies["garbage"], bodies["expired"])
	assert.Equal(t, bodies["garbage"], bodies["revoked"])
}

func TestMiddleware_CookieTransport(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: issued.Token})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_LogoutRevokesPresentedToken(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)
	user := env.seedUser("alice@example.com", "password123")

	a, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)
	b, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	w, _ := do(t, mux, http.MethodPost, "/api/v1/auth/logout", "", a.Token)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	w, _ = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", a.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", b.Token)
	assert.Equal(t, http.StatusOK, w.Code, "other sessions survive a logout")
}

func TestHandlers_LogoutAll(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)
	user := env.seedUser("alice@example.com", "password123")

	a, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)
	b, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	w, resp := do(t, mux, http.MethodPost, "/api/v1/auth/logout-all", "", a.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"revoked_sessions":2}`, string(resp.Data))

	w, _ = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", b.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_ChangePassword(t *testing.T) {
	env := newTestEnv()
	mux := newAuthMux(env, nil)
	user := env.seedUser("alice@example.com", "password123")

	issued, err := env.svc.Issue(context.Background(), user, false, SessionMeta{})
	require.NoError(t, err)

	w, resp := do(t, mux, http.MethodPut, "/api/v1/auth/password",
		`{"current_password":"nope-nope","new_password":"newpassword1"}`, issued.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidationError, resp.Error.Code)

	w, resp = do(t, mux, http.MethodPut, "/api/v1/auth/password",
		`{"current_password":"password123","new_password":"newpassword1"}`, issued.Token)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := tokenOf(t, resp)

	w, _ = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", issued.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, mux, http.MethodGet, "/api/v1/auth/me", "", fresh)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	token, malformed := TokenFromRequest(r, DefaultCookieName)
	assert.Empty(t, token)
	assert.False(t, malformed)

	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"})
	token, _ = TokenFromRequest(r, DefaultCookieName)
	assert.Equal(t, "from-cookie", token)

	r.Header.Set("Authorization", "bearer from-header")
	token, _ = TokenFromRequest(r, DefaultCookieName)
	assert.Equal(t, "from-header", token, "header wins over cookie")

	r.Header.Set("Authorization", "Bearer ")
	_, malformed = TokenFromRequest(r, DefaultCookieName)
	assert.True(t, malformed)
}
