package records

import (
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/users"
)

// NoteKind enumerates the supported note payloads.
type NoteKind string

const (
	// NoteKindText carries free-form text in Content.
	NoteKindText NoteKind = "text"
	// NoteKindImage references an uploaded image in ImageURL.
	NoteKindImage NoteKind = "image"
)

// MaxNotesPerRecord bounds the annotation sequence of one record.
const MaxNotesPerRecord = 10

// Record is one trading journal entry. Rows are soft-deleted through IsDeleted.
type Record struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          uint       `gorm:"column:user_id;not null;index:idx_records_user_created,priority:1"`
	ReviewDate      string     `gorm:"column:review_date;size:10;not null;index"`
	CoinSymbol      string     `gorm:"column:coin_symbol;size:20;not null;index"`
	ChartImageURL   *string    `gorm:"column:chart_image_url;size:512"`
	ProfitLossRatio *float64   `gorm:"column:profit_loss_ratio"`
	Thinking        *string    `gorm:"column:thinking;type:text"`
	IsDeleted       bool       `gorm:"column:is_deleted;not null;default:false;index"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index;index:idx_records_user_created,priority:2"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
	Owner           users.User `gorm:"foreignKey:UserID"`
	Notes           []Note     `gorm:"foreignKey:RecordID"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "trading_records"
}

// Note is an ordered annotation owned by exactly one record.
type Note struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RecordID  uint      `gorm:"column:record_id;not null;uniqueIndex:idx_notes_record_order,priority:1;constraint:OnDelete:CASCADE"`
	NoteOrder int       `gorm:"column:note_order;not null;uniqueIndex:idx_notes_record_order,priority:2"`
	NoteType  NoteKind  `gorm:"column:note_type;size:8;not null"`
	Content   *string   `gorm:"column:content;type:text"`
	ImageURL  *string   `gorm:"column:image_url;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "trading_notes"
}

// Favorite joins a user to a record they bookmarked. At most one row per pair.
type Favorite struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_favorites_user_record,priority:1"`
	RecordID  uint      `gorm:"column:record_id;not null;index;uniqueIndex:idx_favorites_user_record,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}

// AIReview is commentary generated outside this service. Only its presence is read here.
type AIReview struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RecordID      uint      `gorm:"column:record_id;not null;uniqueIndex"`
	ReviewContent string    `gorm:"column:review_content;type:text;not null"`
	ModelName     string    `gorm:"column:model_name;size:100;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AIReview) TableName() string {
	return "ai_reviews"
}

// Owns reports whether user may mutate record.
func Owns(user users.Profile, record Record) bool {
	return user.ID != 0 && user.IsActive && user.ID == record.UserID
}
