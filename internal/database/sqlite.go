package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/auth"
	"github.com/MarcoPoloResearchLab/traflow/internal/records"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const busyTimeoutMillis = 5000

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(dataSourceName(path)), &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&users.User{},
		&auth.Session{},
		&records.Record{},
		&records.Note{},
		&records.Favorite{},
		&records.AIReview{},
		&migrationRecord{},
	}
}

// Ping reports whether the underlying connection is usable.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func dataSourceName(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMillis),
	}
	return path + separator + strings.Join(pragmas, "&")
}
