package records

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "records.service.new"
	opList       = "records.list"
	opGet        = "records.get"
	opCreate     = "records.create"
	opUpdate     = "records.update"
	opDelete     = "records.delete"
	opFavorite   = "records.toggle_favorite"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrAuthenticationRequired is returned by mutations invoked without a caller.
	ErrAuthenticationRequired = apperrors.Authentication("authentication_required", "sign in to continue")
	// ErrRecordNotFound covers missing, soft-deleted and inactive-owner records alike.
	ErrRecordNotFound = apperrors.NotFound("record_not_found", "record not found")
	// ErrNotOwner is returned when the caller does not own the record being changed.
	ErrNotOwner = apperrors.Authorization("not_record_owner", "only the author can change this record")
)

// ServiceConfig describes the dependencies of the record service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service lists, reads and mutates trading records.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the record service.
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
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
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
	s.logger.Error("records service error", attrs...)
}

// internalError logs and wraps a storage failure.
func (s *Service) internalError(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return apperrors.Internal(operation, reason, err)
}
