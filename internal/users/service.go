package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew     = "users.service.new"
	opRegister       = "users.register"
	opFind           = "users.find"
	opUpdateProfile  = "users.update_profile"
	opDeactivate     = "users.deactivate"
	columnUsername   = "username"
	columnEmail      = "email"
	fieldUsername    = "username"
	fieldEmail       = "email"
	codeUserNotFound = "user_not_found"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrUserNotFound is returned when no active account matches the lookup.
	ErrUserNotFound = apperrors.NotFound(codeUserNotFound, "user not found")
)

// Registration is the validated input for creating an account.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" validate:"required,max=100,email"`
	Password string `json:"password" validate:"required,min=6,max=100,password"`
}

// ProfileUpdate carries the fields a user changes on their own account; nil means unchanged.
// An empty avatarUrl clears the stored avatar.
type ProfileUpdate struct {
	Username        *string `json:"username" validate:"omitempty,min=3,max=50,username"`
	Email           *string `json:"email" validate:"omitempty,max=100,email"`
	AvatarURL       *string `json:"avatarUrl" validate:"omitempty,max=512,uri"`
	CurrentPassword *string `json:"currentPassword" validate:"required_with=NewPassword"`
	NewPassword     *string `json:"newPassword" validate:"omitempty,min=6,max=100,password"`
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	BcryptCost int
}

// Service manages stored accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	logger     *zap.Logger
	bcryptCost int
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
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
		cost = DefaultBcryptCost
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		logger:     logger,
		bcryptCost: cost,
	}, nil
}

// NormalizeRegistration trims the input and validates it against the account rules.
func NormalizeRegistration(input Registration) (Registration, error) {
	normalized := Registration{
		Username: normalize(input.Username),
		Email:    NormalizeEmail(input.Email),
		Password: input.Password,
	}
	if err := validation.Struct(normalized); err != nil {
		return Registration{}, err
	}
	return normalized, nil
}

// Create inserts a new active account using db, which may be an open transaction.
// Registration must already be normalized.
func Create(db *gorm.DB, input Registration, passwordHash string, createdAt time.Time) (User, error) {
	if err := ensureAvailable(db, fieldUsername, columnUsername, input.Username, 0); err != nil {
		return User{}, err
	}
	if err := ensureAvailable(db, fieldEmail, columnEmail, input.Email, 0); err != nil {
		return User{}, err
	}
	user := User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if err := db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, conflictFromUniqueViolation(err)
		}
		return User{}, apperrors.Internal(opRegister, "user_insert_failed", err)
	}
	return user, nil
}

// FindActiveByEmail loads the active account registered under email.
func FindActiveByEmail(db *gorm.DB, email string) (User, error) {
	var user User
	err := db.Where("email = ? AND is_active = ?", NormalizeEmail(email), true).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, apperrors.Internal(opFind, "query_failed", err)
	}
	return user, nil
}

// FindActiveByID loads the active account with the given id.
func FindActiveByID(db *gorm.DB, id uint) (User, error) {
	var user User
	err := db.Where("id = ? AND is_active = ?", id, true).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, apperrors.Internal(opFind, "query_failed", err)
	}
	return user, nil
}

// UpdateProfile applies the present fields of update to the caller's own account.
// Changing the password requires the current one.
func (s *Service) UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) (Profile, error) {
	normalized, err := normalizeProfileUpdate(update)
	if err != nil {
		return Profile{}, err
	}

	var updated User
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		user, err := FindActiveByID(tx, userID)
		if err != nil {
			return err
		}

		changes := map[string]interface{}{}
		if normalized.Username != nil && *normalized.Username != user.Username {
			if err := ensureAvailable(tx, fieldUsername, columnUsername, *normalized.Username, user.ID); err != nil {
				return err
			}
			changes["username"] = *normalized.Username
		}
		if normalized.Email != nil && *normalized.Email != user.Email {
			if err := ensureAvailable(tx, fieldEmail, columnEmail, *normalized.Email, user.ID); err != nil {
				return err
			}
			changes["email"] = *normalized.Email
		}
		if normalized.AvatarURL != nil {
			if *normalized.AvatarURL == "" {
				changes["avatar_url"] = nil
			} else {
				changes["avatar_url"] = *normalized.AvatarURL
			}
		}
		if normalized.NewPassword != nil {
			matches, err := PasswordMatches(user.PasswordHash, *normalized.CurrentPassword)
			if err != nil {
				s.logError(opUpdateProfile, "password_compare_failed", err, zap.Uint("user_id", userID))
				return apperrors.Internal(opUpdateProfile, "password_compare_failed", err)
			}
			if !matches {
				return apperrors.Validation("currentPassword", "does not match the stored password")
			}
			hash, err := HashPassword(*normalized.NewPassword, s.bcryptCost)
			if err != nil {
				s.logError(opUpdateProfile, "password_hash_failed", err, zap.Uint("user_id", userID))
				return apperrors.Internal(opUpdateProfile, "password_hash_failed", err)
			}
			changes["password_hash"] = hash
		}

		if len(changes) > 0 {
			changes["updated_at"] = s.now().UTC()
			if err := tx.Model(&User{}).Where("id = ?", user.ID).Updates(changes).Error; err != nil {
				if isUniqueViolation(err) {
					return conflictFromUniqueViolation(err)
				}
				s.logError(opUpdateProfile, "user_update_failed", err, zap.Uint("user_id", userID))
				return apperrors.Internal(opUpdateProfile, "user_update_failed", err)
			}
		}

		reloaded, err := FindActiveByID(tx, user.ID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if txErr != nil {
		return Profile{}, txErr
	}
	return updated.Profile(), nil
}

// Deactivate soft-deletes the account. Sessions and records stay stored but become invisible.
func (s *Service) Deactivate(ctx context.Context, userID uint) error {
	result := s.db.WithContext(context.WithoutCancel(ctx)).
		Model(&User{}).
		Where("id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": s.now().UTC()})
	if result.Error != nil {
		s.logError(opDeactivate, "user_update_failed", result.Error, zap.Uint("user_id", userID))
		return apperrors.Internal(opDeactivate, "user_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeProfileUpdate(update ProfileUpdate) (ProfileUpdate, error) {
	normalized := update
	if update.Username != nil {
		username := normalize(*update.Username)
		if username == "" {
			return ProfileUpdate{}, apperrors.Validation(fieldUsername, "is required")
		}
		normalized.Username = &username
	}
	if update.Email != nil {
		email := NormalizeEmail(*update.Email)
		if email == "" {
			return ProfileUpdate{}, apperrors.Validation(fieldEmail, "is required")
		}
		normalized.Email = &email
	}
	if update.AvatarURL != nil {
		avatar := normalize(*update.AvatarURL)
		normalized.AvatarURL = &avatar
	}
	if err := validation.Struct(normalized); err != nil {
		return ProfileUpdate{}, err
	}
	return normalized, nil
}

func ensureAvailable(db *gorm.DB, field, column, value string, excludeID uint) error {
	query := db.Model(&User{}).Where(column+" = ? AND is_active = ?", value, true)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return apperrors.Internal(opRegister, "uniqueness_check_failed", err)
	}
	if count > 0 {
		return apperrors.Conflict(field, field+"_taken", field+" is already registered")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func conflictFromUniqueViolation(err error) error {
	if strings.Contains(err.Error(), "email") {
		return apperrors.Conflict(fieldEmail, fieldEmail+"_taken", "email is already registered")
	}
	return apperrors.Conflict(fieldUsername, fieldUsername+"_taken", "username is already registered")
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
	s.logger.Error("users service error", attrs...)
}
