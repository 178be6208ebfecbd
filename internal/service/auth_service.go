package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"floodbuddy/internal/config"
	"floodbuddy/internal/ids"
	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/repository"
	"floodbuddy/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("email and password required")
	ErrUserSuspended      = errors.New("user suspended")
)

type AuthService struct {
	users    repository.UserStore
	sessions repository.SessionStore
	cfg      config.SecurityConfig
	clock    clockwork.Clock
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewAuthService(
	users repository.UserStore,
	sessions repository.SessionStore,
	cfg config.SecurityConfig,
	clock clockwork.Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		clock:    clock,
		metrics:  metrics,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

type RegisterInput struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         models.User
	DeviceID     string
}

// Register creates the account and signs the device in. Every failure the
// user can cause comes back as an AuthError with the registration message.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	result, err := s.register(ctx, input)
	s.recordAttempt("register", err)
	return result, err
}

func (s *AuthService) register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, registerFailed(ErrMissingCredentials)
	}

	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return AuthResult{}, registerFailed(repository.ErrEmailTaken)
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		Role:         models.UserRoleReporter,
		Status:       models.UserStatusActive,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return AuthResult{}, registerFailed(err)
		}
		return AuthResult{}, err
	}

	result, err := s.createSession(ctx, user, input.DeviceID, input.DeviceName, input.IPAddress, input.UserAgent)
	if err != nil {
		// Without a session the account is unreachable and would block a retry.
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("user_id", user.ID).Msg("remove user after failed registration")
		}
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return result, nil
}

type LoginInput struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

// Login never tells the caller whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	result, err := s.login(ctx, input)
	s.recordAttempt("login", err)
	return result, err
}

func (s *AuthService) login(ctx context.Context, input LoginInput) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, signInFailed(ErrMissingCredentials)
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, signInFailed(ErrInvalidCredentials)
		}
		return AuthResult{}, err
	}

	if !user.Active() {
		return AuthResult{}, signInFailed(ErrUserSuspended)
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, signInFailed(ErrInvalidCredentials)
	}

	return s.createSession(ctx, user, input.DeviceID, input.DeviceName, input.IPAddress, input.UserAgent)
}

func (s *AuthService) createSession(
	ctx context.Context,
	user models.User,
	deviceID string,
	deviceName string,
	ipAddress string,
	userAgent string,
) (AuthResult, error) {
	if deviceID == "" {
		deviceID = ids.New()
	}
	if deviceName == "" {
		deviceName = "Unknown Device"
	}

	refreshToken, refreshHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.clock.Now()
	session := models.Session{
		ID:               ids.New(),
		UserID:           user.ID,
		DeviceID:         deviceID,
		DeviceName:       deviceName,
		RefreshTokenHash: refreshHash,
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
		ExpiresAt:        now.Add(s.cfg.JWTRefreshTTL),
	}

	accessToken, err := s.accessToken(user, session, now)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, fmt.Errorf("create session: %w", err)
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	return AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
		DeviceID:     deviceID,
	}, nil
}

func (s *AuthService) accessToken(user models.User, session models.Session, now time.Time) (string, error) {
	return security.GenerateAccessToken(s.cfg.JWTAccessSecret, security.AccessTokenInput{
		UserID:    user.ID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		Email:     user.Email,
		Role:      string(user.Role),
		IssuedAt:  now,
		TTL:       s.cfg.JWTAccessTTL,
	})
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.cfg.MaxSessions {
		return nil
	}

	return s.sessions.DeleteOldestSessions(ctx, userID, s.cfg.MaxSessions)
}

type RefreshInput struct {
	UserID       string
	RefreshToken string
	DeviceID     string
}

// Refresh rotates the refresh token of one device session.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (AuthResult, error) {
	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}
	if !user.Active() {
		return AuthResult{}, ErrUserSuspended
	}

	refreshHash := security.HashRefreshToken(input.RefreshToken)
	session, err := s.sessions.FindByRefreshHash(ctx, input.UserID, refreshHash)
	if err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	if session.DeviceID != input.DeviceID {
		return AuthResult{}, ErrInvalidCredentials
	}

	now := s.clock.Now()
	if session.Expired(now) {
		_ = s.sessions.DeleteByID(ctx, session.ID)
		return AuthResult{}, ErrInvalidCredentials
	}

	refreshToken, newHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}

	session.RefreshTokenHash = newHash
	session.ExpiresAt = now.Add(s.cfg.JWTRefreshTTL)

	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, fmt.Errorf("rotate session: %w", err)
	}

	accessToken, err := s.accessToken(user, session, now)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
		DeviceID:     session.DeviceID,
	}, nil
}

type LogoutInput struct {
	UserID       string
	DeviceID     string
	RefreshToken string
}

// Logout is sign-out. The refresh token proves the caller owns the device
// session being ended.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	session, err := s.sessions.FindByRefreshHash(ctx, input.UserID, security.HashRefreshToken(input.RefreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if session.DeviceID != input.DeviceID {
		return ErrInvalidCredentials
	}
	return s.sessions.DeleteByDevice(ctx, input.UserID, input.DeviceID)
}

// RevokeDevice ends another device's session for the signed-in user.
func (s *AuthService) RevokeDevice(ctx context.Context, userID string, deviceID string) error {
	return s.sessions.DeleteByDevice(ctx, userID, deviceID)
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// ValidateSession is the bearer middleware's check that a token's session
// still exists and belongs to its user.
func (s *AuthService) ValidateSession(ctx context.Context, claims *security.AccessClaims) (models.Session, error) {
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return models.Session{}, err
	}
	if session.UserID != claims.UserID || session.DeviceID != claims.DeviceID {
		return models.Session{}, ErrInvalidCredentials
	}
	if session.Expired(s.clock.Now()) {
		return models.Session{}, ErrInvalidCredentials
	}
	return session, nil
}

func (s *AuthService) TouchSession(ctx context.Context, sessionID, ip, userAgent string) error {
	return s.sessions.Touch(ctx, sessionID, ip, userAgent)
}

func (s *AuthService) recordAttempt(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.AuthAttempts.WithLabelValues(action, outcome).Inc()
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func signInFailed(err error) error {
	return &models.AuthError{Message: models.SignInFailedMessage, Err: err}
}

func registerFailed(err error) error {
	return &models.AuthError{Message: models.RegisterFailedMessage, Err: err}
}
