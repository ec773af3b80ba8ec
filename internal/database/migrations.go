package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationActiveAccountUniqueness = "2024-06-01_active_account_uniqueness"
	migrationUppercaseCoinSymbols    = "2024-06-01_uppercase_coin_symbols"
	migrationPurgeOrphanNotes        = "2024-06-08_purge_orphan_notes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationActiveAccountUniqueness, apply: enforceActiveAccountUniqueness},
		{name: migrationUppercaseCoinSymbols, apply: uppercaseCoinSymbols},
		{name: migrationPurgeOrphanNotes, apply: purgeOrphanNotes},
	}
}

// applyMigrations runs each pending migration and its ledger insert in one transaction.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// enforceActiveAccountUniqueness lets a deactivated account keep its username and email
// while a new active account claims them.
func enforceActiveAccountUniqueness(db *gorm.DB) error {
	statements := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_active_username ON users(username) WHERE is_active = 1",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_active_email ON users(email) WHERE is_active = 1",
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func uppercaseCoinSymbols(db *gorm.DB) error {
	return db.Exec("UPDATE trading_records SET coin_symbol = UPPER(TRIM(coin_symbol)) WHERE coin_symbol <> UPPER(TRIM(coin_symbol))").Error
}

func purgeOrphanNotes(db *gorm.DB) error {
	return db.Exec("DELETE FROM trading_notes WHERE record_id NOT IN (SELECT id FROM trading_records)").Error
}
