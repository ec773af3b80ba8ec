package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/MarcoPoloResearchLab/traflow/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew    = "auth.service.new"
	opRegister      = "auth.register"
	opLogin         = "auth.login"
	opLogout        = "auth.logout"
	opAuthenticate  = "auth.authenticate"
	opPurgeSessions = "auth.purge_sessions"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingTokenIssuer = errors.New("token issuer is required")
	noOpLogger            = zap.NewNop()

	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = apperrors.Authentication("invalid_credentials", "email or password is incorrect")
)

// Credentials is the login input.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Grant is the result of a successful registration or login.
type Grant struct {
	Token     string
	ExpiresAt time.Time
	User      users.Profile
}

// ServiceConfig describes the dependencies of the authentication service.
type ServiceConfig struct {
	Database   *gorm.DB
	Tokens     *TokenIssuer
	Clock      func() time.Time
	Logger     *zap.Logger
	BcryptCost int
}

// Service registers accounts, opens and revokes sessions, and resolves bearer tokens.
type Service struct {
	db         *gorm.DB
	tokens     *TokenIssuer
	clock      func() time.Time
	logger     *zap.Logger
	bcryptCost int
}

// NewService constructs the authentication service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Tokens == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_token_issuer", errMissingTokenIssuer)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = users.DefaultBcryptCost
	}
	return &Service{
		db:         cfg.Database,
		tokens:     cfg.Tokens,
		clock:      clock,
		logger:     logger,
		bcryptCost: cost,
	}, nil
}

// Register creates the account and its first session in one transaction.
func (s *Service) Register(ctx context.Context, input users.Registration) (Grant, error) {
	registration, err := users.NormalizeRegistration(input)
	if err != nil {
		return Grant{}, err
	}
	hash, err := users.HashPassword(registration.Password, s.bcryptCost)
	if err != nil {
		s.logError(opRegister, "password_hash_failed", err)
		return Grant{}, apperrors.Internal(opRegister, "password_hash_failed", err)
	}

	var grant Grant
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		user, err := users.Create(tx, registration, hash, s.clock().UTC())
		if err != nil {
			return err
		}
		issued, err := s.openSession(tx, opRegister, user.ID)
		if err != nil {
			return err
		}
		grant = Grant{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: user.Profile()}
		return nil
	})
	if txErr != nil {
		if apperrors.KindOf(txErr) == apperrors.KindInternal {
			s.logError(opRegister, "transaction_failed", txErr)
		}
		return Grant{}, txErr
	}
	return grant, nil
}

// Login verifies credentials against an active account and opens a new session.
func (s *Service) Login(ctx context.Context, credentials Credentials) (Grant, error) {
	credentials.Email = users.NormalizeEmail(credentials.Email)
	if err := validation.Struct(credentials); err != nil {
		return Grant{}, err
	}

	user, err := users.FindActiveByEmail(s.db.WithContext(ctx), credentials.Email)
	if errors.Is(err, users.ErrUserNotFound) {
		return Grant{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opLogin, "user_lookup_failed", err)
		return Grant{}, err
	}

	matches, err := users.PasswordMatches(user.PasswordHash, credentials.Password)
	if err != nil {
		s.logError(opLogin, "password_compare_failed", err, zap.Uint("user_id", user.ID))
		return Grant{}, apperrors.Internal(opLogin, "password_compare_failed", err)
	}
	if !matches {
		return Grant{}, ErrInvalidCredentials
	}

	var grant Grant
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		issued, err := s.openSession(tx, opLogin, user.ID)
		if err != nil {
			return err
		}
		grant = Grant{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: user.Profile()}
		return nil
	})
	if txErr != nil {
		return Grant{}, txErr
	}
	return grant, nil
}

// Authenticate resolves a bearer token to its user. Every failure mode, including storage
// errors, yields ok == false so optional-auth endpoints keep serving anonymous callers.
func (s *Service) Authenticate(ctx context.Context, token string) (users.Profile, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return users.Profile{}, false
	}

	claims, err := s.tokens.Validate(token)
	if err != nil {
		s.logger.Debug("bearer token rejected", zap.String("operation", opAuthenticate), zap.Error(err))
		return users.Profile{}, false
	}

	var user users.User
	err = s.db.WithContext(ctx).
		Table("user_sessions AS us").
		Select("u.*").
		Joins("JOIN users AS u ON u.id = us.user_id").
		Where("us.session_token = ? AND us.expires_at > ? AND u.is_active = ?", token, s.clock().UTC(), true).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Debug("session not found", zap.String("operation", opAuthenticate), zap.Uint("user_id", claims.UserID))
		return users.Profile{}, false
	}
	if err != nil {
		s.logger.Warn("session lookup failed", zap.String("operation", opAuthenticate), zap.Error(err))
		return users.Profile{}, false
	}
	if user.ID != claims.UserID {
		s.logger.Warn("session subject mismatch",
			zap.String("operation", opAuthenticate),
			zap.Uint("token_user_id", claims.UserID),
			zap.Uint("session_user_id", user.ID))
		return users.Profile{}, false
	}
	return user.Profile(), true
}

// Logout revokes the session bound to token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	err := s.db.WithContext(context.WithoutCancel(ctx)).
		Where("session_token = ?", strings.TrimSpace(token)).
		Delete(&Session{}).Error
	if err != nil {
		s.logError(opLogout, "session_delete_failed", err)
		return apperrors.Internal(opLogout, "session_delete_failed", err)
	}
	return nil
}

// PurgeExpiredSessions removes session rows whose expiry has passed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.clock().UTC()).Delete(&Session{})
	if result.Error != nil {
		s.logError(opPurgeSessions, "session_delete_failed", result.Error)
		return 0, apperrors.Internal(opPurgeSessions, "session_delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) openSession(tx *gorm.DB, operation string, userID uint) (IssuedToken, error) {
	issued, err := s.tokens.Issue(userID)
	if err != nil {
		s.logError(operation, "token_issue_failed", err, zap.Uint("user_id", userID))
		return IssuedToken{}, apperrors.Internal(operation, "token_issue_failed", err)
	}
	session := Session{
		UserID:       userID,
		SessionToken: issued.Token,
		ExpiresAt:    issued.ExpiresAt.UTC(),
		CreatedAt:    s.clock().UTC(),
	}
	if err := tx.Create(&session).Error; err != nil {
		s.logError(operation, "session_insert_failed", err, zap.Uint("user_id", userID))
		return IssuedToken{}, apperrors.Internal(operation, "session_insert_failed", err)
	}
	return issued, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("auth service error", attrs...)
}
