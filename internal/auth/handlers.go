package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/db"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/middleware"
	"github.com/coinfolio/backend/internal/validators"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action string, details map[string]any)
}

type CookieConfig struct {
	Name   string
	Secure bool
}

type Handlers struct {
	authService *Service
	cookie      CookieConfig
	activity    ActivityRecorder
}

func NewHandlers(authService *Service, cookie CookieConfig, recorder ActivityRecorder) *Handlers {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return &Handlers{authService: authService, cookie: cookie, activity: recorder}
}

// Register handles POST /api/v1/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := validateRegisterRequest(&req); err != nil {
		return err
	}

	resp, err := h.authService.Register(r.Context(), req.Email, req.Password, req.Username, sessionMeta(r))
	if err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return apperrors.EmailExists()
		}
		return apperrors.InternalError("failed to create user").WithCause(err)
	}

	h.setCookie(w, resp.Token, resp.ExpiresAt)
	h.record(r, resp.User.ID, activity.ActionRegister, nil)

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, resp)
	return nil
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	v := validators.New()
	v.Check(req.Email != "", "email", "email is required")
	v.Check(req.Password != "", "password", "password is required")
	if err := v.Err(); err != nil {
		return err
	}

	resp, err := h.authService.Login(r.Context(), req.Email, req.Password, req.RememberMe, sessionMeta(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return apperrors.InvalidCredentials()
		}
		return apperrors.InternalError("login failed").WithCause(err)
	}

	h.setCookie(w, resp.Token, resp.ExpiresAt)
	h.record(r, resp.User.ID, activity.ActionLogin, map[string]any{"remember_me": req.RememberMe})

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

// Logout handles POST /api/v1/auth/logout. Only the presented token is
// revoked.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	user, err := RequireUser(r)
	if err != nil {
		return err
	}

	token, _ := TokenFromRequest(r, h.cookie.Name)
	if err := h.authService.Revoke(r.Context(), token); err != nil {
		return apperrors.DatabaseError("logout failed").WithCause(err)
	}

	h.clearCookie(w)
	h.record(r, user.UserID.String(), activity.ActionLogout, nil)

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"logged_out": true})
	return nil
}

// LogoutAll handles POST /api/v1/auth/logout-all
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) error {
	user, err := RequireUser(r)
	if err != nil {
		return err
	}

	n, err := h.authService.RevokeAll(r.Context(), user.UserID)
	if err != nil {
		return apperrors.DatabaseError("logout failed").WithCause(err)
	}

	h.clearCookie(w)
	h.record(r, user.UserID.String(), activity.ActionLogoutAll, map[string]any{"sessions": n})

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"revoked_sessions": n})
	return nil
}

// Me handles GET /api/v1/auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	user, err := RequireUser(r)
	if err != nil {
		return err
	}

	info, err := h.authService.GetUserByID(r.Context(), user.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.AuthInvalid()
		}
		return apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"user":               info,
		"session_expires_at": user.ExpiresAt,
	})
	return nil
}

// ChangePassword handles PUT /api/v1/auth/password. Every session of the
// user is revoked and a new one is returned.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	user, err := RequireUser(r)
	if err != nil {
		return err
	}

	var req ChangePasswordRequest
	if err := validators.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	v := validators.New()
	v.Check(req.CurrentPassword != "", "current_password", "current password is required")
	validators.Password(v, "new_password", req.NewPassword)
	v.Check(req.NewPassword == "" || req.NewPassword != req.CurrentPassword, "new_password", "new password must differ from the current one")
	if err := v.Err(); err != nil {
		return err
	}

	resp, err := h.authService.ChangePassword(r.Context(), user.UserID, req.CurrentPassword, req.NewPassword, sessionMeta(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return apperrors.ValidationError("current password is incorrect").
				WithDetails(map[string]any{"fields": map[string]any{"current_password": "current password is incorrect"}})
		}
		return apperrors.InternalError("failed to change password").WithCause(err)
	}

	h.setCookie(w, resp.Token, resp.ExpiresAt)
	h.record(r, user.UserID.String(), activity.ActionPasswordChanged, nil)

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func (h *Handlers) setCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) record(r *http.Request, userID, action string, details map[string]any) {
	if h.activity == nil {
		return
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return
	}
	h.activity.Record(r.Context(), id, action, details)
}

func sessionMeta(r *http.Request) SessionMeta {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	ip := middleware.ClientIP(r)
	if len(ip) > 64 {
		ip = ip[:64]
	}
	return SessionMeta{UserAgent: ua, IPAddress: ip}
}

func validateRegisterRequest(req *RegisterRequest) error {
	v := validators.New()
	validators.Email(v, "email", NormalizeEmail(req.Email))
	validators.Password(v, "password", req.Password)
	validators.Username(v, "username", req.Username)
	return v.Err()
}
