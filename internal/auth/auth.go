package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coinfolio/backend/internal/db"
)

const (
	DefaultSessionTTL  = 24 * time.Hour
	DefaultRememberTTL = 7 * 24 * time.Hour
	DefaultBcryptCost  = 12
	DefaultIssuer      = "coinfolio"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned for every rejected credential,
	// whichever check failed
	ErrUnauthenticated = errors.New("invalid or expired session")
)

type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error
}

type SessionStore interface {
	Create(ctx context.Context, s *db.Session) error
	GetActiveByHash(ctx context.Context, tokenHash string, now time.Time) (*db.Session, error)
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SessionMeta is stored alongside a session for display and auditing
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// IssuedSession is a freshly signed credential. Token is only ever held
// in memory and sent to the client.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *UserInfo `json:"user"`
}

type UserInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Config struct {
	Secret      string
	Issuer      string
	SessionTTL  time.Duration
	RememberTTL time.Duration
	BcryptCost  int
	// Now defaults to time.Now
	Now func() time.Time
}

type Service struct {
	users       UserStore
	sessions    SessionStore
	secret      []byte
	issuer      string
	sessionTTL  time.Duration
	rememberTTL time.Duration
	bcryptCost  int
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(users UserStore, sessions SessionStore, cfg Config) *Service {
	s := &Service{
		users:       users,
		sessions:    sessions,
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		sessionTTL:  cfg.SessionTTL,
		rememberTTL: cfg.RememberTTL,
		bcryptCost:  cfg.BcryptCost,
		now:         cfg.Now,
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.rememberTTL <= 0 {
		s.rememberTTL = DefaultRememberTTL
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = DefaultBcryptCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue signs a credential for user and records its hash. remember selects
// the long-lived TTL.
func (s *Service) Issue(ctx context.Context, user *db.User, remember bool, meta SessionMeta) (*IssuedSession, error) {
	now := s.now()
	ttl := s.sessionTTL
	if remember {
		ttl = s.rememberTTL
	}
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	session := &db.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &IssuedSession{Token: token, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry, then that the session still
// exists server-side, then that the user exists. Any rejection is
// ErrUnauthenticated; storage failures are returned as-is.
func (s *Service) Verify(ctx context.Context, rawToken string) (*UserContext, error) {
	claims, err := s.parse(rawToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetActiveByHash(ctx, hashToken(rawToken), s.now())
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return &UserContext{
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Revoke deletes the session for rawToken. Revoking an unknown token is
// not an error.
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	err := s.sessions.DeleteByHash(ctx, hashToken(rawToken))
	if err != nil && !errors.Is(err, db.ErrSessionNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

// PurgeExpired removes session rows that can no longer verify
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

func (s *Service) Register(ctx context.Context, email, password, username string, meta SessionMeta) (*AuthResponse, error) {
	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &db.User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return s.respond(ctx, user, false, meta)
}

func (s *Service) Login(ctx context.Context, email, password string, remember bool, meta SessionMeta) (*AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			// same cost as a real comparison
			bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.respond(ctx, user, remember, meta)
}

// ChangePassword replaces the password, revokes every session of the user
// and issues a fresh one
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string, meta SessionMeta) (*AuthResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return nil, ErrInvalidCredentials
	}

	passwordHash, err := s.hashPassword(next)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, userID, passwordHash, s.now()); err != nil {
		return nil, err
	}
	if _, err := s.RevokeAll(ctx, userID); err != nil {
		return nil, err
	}

	return s.respond(ctx, user, false, meta)
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*UserInfo, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserInfo(user), nil
}

func (s *Service) respond(ctx context.Context, user *db.User, remember bool, meta SessionMeta) (*AuthResponse, error) {
	issued, err := s.Issue(ctx, user, remember, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      toUserInfo(user),
	}, nil
}

func (s *Service) parse(rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("coinfolio-dummy-password"), s.bcryptCost)
	})
	return s.dummyHash
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toUserInfo(user *db.User) *UserInfo {
	return &UserInfo{
		ID:        user.ID.String(),
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// hashToken is the at-rest form of a session token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
