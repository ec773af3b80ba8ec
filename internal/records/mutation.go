package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/MarcoPoloResearchLab/traflow/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NoteInput is one annotation in a create or update request.
type NoteInput struct {
	NoteOrder int      `json:"noteOrder" validate:"min=1,max=10"`
	NoteType  NoteKind `json:"noteType" validate:"required,oneof=text image"`
	Content   *string  `json:"content" validate:"omitempty,max=1000"`
	ImageURL  *string  `json:"imageUrl" validate:"omitempty,max=512,uri"`
}

// Draft is the input for a new record.
type Draft struct {
	ReviewDate      string      `json:"reviewDate" validate:"required,isodate"`
	CoinSymbol      string      `json:"coinSymbol" validate:"required,max=20,symbol"`
	ChartImageURL   *string     `json:"chartImageUrl" validate:"omitempty,max=512,uri"`
	ProfitLossRatio *float64    `json:"profitLossRatio" validate:"omitempty,gte=-100,lte=1000"`
	Thinking        *string     `json:"thinking" validate:"omitempty,max=2000"`
	Notes           []NoteInput `json:"notes" validate:"max=10,dive"`
}

// Patch carries a partial update. Nil fields are left unchanged; an empty string clears
// chartImageUrl or thinking. Nil Notes keeps the notes, an empty slice removes them and
// a non-empty slice replaces them.
type Patch struct {
	ReviewDate      *string      `json:"reviewDate" validate:"omitempty,isodate"`
	CoinSymbol      *string      `json:"coinSymbol" validate:"omitempty,max=20,symbol"`
	ChartImageURL   *string      `json:"chartImageUrl" validate:"omitempty,max=512,uri"`
	ProfitLossRatio *float64     `json:"profitLossRatio" validate:"omitempty,gte=-100,lte=1000"`
	Thinking        *string      `json:"thinking" validate:"omitempty,max=2000"`
	Notes           *[]NoteInput `json:"notes" validate:"omitempty,max=10,dive"`
}

type recordChanges struct {
	columns      map[string]any
	notes        []NoteInput
	replaceNotes bool
}

// Create stores a record and its notes atomically and returns the hydrated record.
func (s *Service) Create(ctx context.Context, owner *users.Profile, draft Draft) (RecordView, error) {
	if owner == nil || owner.ID == 0 {
		return RecordView{}, ErrAuthenticationRequired
	}
	draft, err := normalizeDraft(draft)
	if err != nil {
		return RecordView{}, err
	}

	now := s.now()
	record := Record{
		UserID:          owner.ID,
		ReviewDate:      draft.ReviewDate,
		CoinSymbol:      draft.CoinSymbol,
		ChartImageURL:   draft.ChartImageURL,
		ProfitLossRatio: draft.ProfitLossRatio,
		Thinking:        draft.Thinking,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return s.internalError(opCreate, "record_insert_failed", err, zap.Uint("user_id", owner.ID))
		}
		return s.insertNotes(tx, opCreate, record.ID, draft.Notes, now)
	})
	if txErr != nil {
		return RecordView{}, txErr
	}
	return s.Get(ctx, record.ID, owner)
}

// Update applies patch to a record owned by caller. Ownership is checked before any write.
func (s *Service) Update(ctx context.Context, caller *users.Profile, id uint, patch Patch) (RecordView, error) {
	if caller == nil || caller.ID == 0 {
		return RecordView{}, ErrAuthenticationRequired
	}
	changes, err := normalizePatch(patch)
	if err != nil {
		return RecordView{}, err
	}

	now := s.now()
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		record, err := s.findMutable(tx, opUpdate, *caller, id)
		if err != nil {
			return err
		}
		if len(changes.columns) == 0 && !changes.replaceNotes {
			return nil
		}
		changes.columns["updated_at"] = now
		if err := tx.Model(&Record{}).Where("id = ?", record.ID).Updates(changes.columns).Error; err != nil {
			return s.internalError(opUpdate, "record_update_failed", err, zap.Uint("record_id", record.ID))
		}
		if !changes.replaceNotes {
			return nil
		}
		if err := tx.Where("record_id = ?", record.ID).Delete(&Note{}).Error; err != nil {
			return s.internalError(opUpdate, "note_delete_failed", err, zap.Uint("record_id", record.ID))
		}
		return s.insertNotes(tx, opUpdate, record.ID, changes.notes, now)
	})
	if txErr != nil {
		return RecordView{}, txErr
	}
	return s.Get(ctx, id, caller)
}

// Delete soft-deletes a record owned by caller.
func (s *Service) Delete(ctx context.Context, caller *users.Profile, id uint) error {
	if caller == nil || caller.ID == 0 {
		return ErrAuthenticationRequired
	}
	return s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		record, err := s.findMutable(tx, opDelete, *caller, id)
		if err != nil {
			return err
		}
		err = tx.Model(&Record{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"is_deleted": true, "updated_at": s.now()}).Error
		if err != nil {
			return s.internalError(opDelete, "record_update_failed", err, zap.Uint("record_id", record.ID))
		}
		return nil
	})
}

// ToggleFavorite flips caller's favorite on an eligible record. An insert that loses a race
// against a concurrent toggle leaves the favorite in place and reports it as favorited.
func (s *Service) ToggleFavorite(ctx context.Context, caller *users.Profile, id uint) (FavoriteState, error) {
	if caller == nil || caller.ID == 0 {
		return FavoriteState{}, ErrAuthenticationRequired
	}
	scope, err := compile(append(eligible(), Predicate{Field: FieldRecordID, Operator: OperatorEq, Value: id}))
	if err != nil {
		return FavoriteState{}, s.internalError(opFavorite, "predicate_invalid", err)
	}

	var state FavoriteState
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		var matches int64
		if err := scope(eligibleRecords(tx)).Count(&matches).Error; err != nil {
			return s.internalError(opFavorite, "record_lookup_failed", err, zap.Uint("record_id", id))
		}
		if matches == 0 {
			return ErrRecordNotFound
		}

		removed := tx.Where("user_id = ? AND record_id = ?", caller.ID, id).Delete(&Favorite{})
		if removed.Error != nil {
			return s.internalError(opFavorite, "favorite_delete_failed", removed.Error, zap.Uint("record_id", id))
		}
		if removed.RowsAffected == 0 {
			favorite := Favorite{UserID: caller.ID, RecordID: id, CreatedAt: s.now()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&favorite).Error; err != nil {
				return s.internalError(opFavorite, "favorite_insert_failed", err, zap.Uint("record_id", id))
			}
			state.IsFavorited = true
		}

		if err := tx.Model(&Favorite{}).Where("record_id = ?", id).Count(&state.FavoriteCount).Error; err != nil {
			return s.internalError(opFavorite, "favorite_count_failed", err, zap.Uint("record_id", id))
		}
		return nil
	})
	if txErr != nil {
		return FavoriteState{}, txErr
	}
	return state, nil
}

// findMutable loads a record that is not deleted and whose author is active, then checks ownership.
func (s *Service) findMutable(tx *gorm.DB, operation string, caller users.Profile, id uint) (Record, error) {
	if id == 0 {
		return Record{}, ErrRecordNotFound
	}
	var record Record
	err := tx.
		Joins("JOIN users AS u ON u.id = trading_records.user_id AND u.is_active = ?", true).
		Where("trading_records.id = ? AND trading_records.is_deleted = ?", id, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, s.internalError(operation, "record_lookup_failed", err, zap.Uint("record_id", id))
	}
	if !Owns(caller, record) {
		return Record{}, ErrNotOwner
	}
	return record, nil
}

func (s *Service) insertNotes(tx *gorm.DB, operation string, recordID uint, inputs []NoteInput, createdAt time.Time) error {
	if len(inputs) == 0 {
		return nil
	}
	notes := make([]Note, 0, len(inputs))
	for _, input := range inputs {
		note := Note{RecordID: recordID, NoteOrder: input.NoteOrder, NoteType: input.NoteType, CreatedAt: createdAt}
		if input.NoteType == NoteKindImage {
			note.ImageURL = input.ImageURL
		} else {
			note.Content = input.Content
		}
		notes = append(notes, note)
	}
	if err := tx.Create(&notes).Error; err != nil {
		return s.internalError(operation, "note_insert_failed", err, zap.Uint("record_id", recordID))
	}
	return nil
}

func normalizeDraft(draft Draft) (Draft, error) {
	draft.ReviewDate = strings.TrimSpace(draft.ReviewDate)
	draft.CoinSymbol = normalizeSymbol(draft.CoinSymbol)
	draft.ChartImageURL = trimOptional(draft.ChartImageURL)
	draft.Thinking = trimOptional(draft.Thinking)
	notes, err := normalizeNotes(draft.Notes)
	if err != nil {
		return Draft{}, err
	}
	draft.Notes = notes
	if err := validation.Struct(draft); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

func normalizePatch(patch Patch) (recordChanges, error) {
	changes := recordChanges{columns: map[string]any{}}

	if patch.ReviewDate != nil {
		value := strings.TrimSpace(*patch.ReviewDate)
		if value == "" {
			return recordChanges{}, apperrors.Validation("reviewDate", "is required")
		}
		patch.ReviewDate = &value
		changes.columns["review_date"] = value
	}
	if patch.CoinSymbol != nil {
		value := normalizeSymbol(*patch.CoinSymbol)
		if value == "" {
			return recordChanges{}, apperrors.Validation("coinSymbol", "is required")
		}
		patch.CoinSymbol = &value
		changes.columns["coin_symbol"] = value
	}
	if patch.ChartImageURL != nil {
		patch.ChartImageURL = trimOptional(patch.ChartImageURL)
		changes.columns["chart_image_url"] = nullable(patch.ChartImageURL)
	}
	if patch.Thinking != nil {
		patch.Thinking = trimOptional(patch.Thinking)
		changes.columns["thinking"] = nullable(patch.Thinking)
	}
	if patch.ProfitLossRatio != nil {
		changes.columns["profit_loss_ratio"] = *patch.ProfitLossRatio
	}
	if patch.Notes != nil {
		notes, err := normalizeNotes(*patch.Notes)
		if err != nil {
			return recordChanges{}, err
		}
		patch.Notes = &notes
		changes.notes = notes
		changes.replaceNotes = true
	}

	if err := validation.Struct(patch); err != nil {
		return recordChanges{}, err
	}
	return changes, nil
}

// normalizeNotes trims payloads and enforces the rules the validator tags cannot express:
// unique orders and the payload required by each kind.
func normalizeNotes(inputs []NoteInput) ([]NoteInput, error) {
	if len(inputs) > MaxNotesPerRecord {
		return nil, apperrors.Validation("notes", fmt.Sprintf("must contain at most %d notes", MaxNotesPerRecord))
	}
	normalized := make([]NoteInput, 0, len(inputs))
	seen := make(map[int]struct{}, len(inputs))
	for index, input := range inputs {
		input.NoteType = NoteKind(strings.ToLower(strings.TrimSpace(string(input.NoteType))))
		input.Content = trimOptional(input.Content)
		input.ImageURL = trimOptional(input.ImageURL)

		if _, duplicate := seen[input.NoteOrder]; duplicate {
			return nil, apperrors.Validation(fmt.Sprintf("notes[%d].noteOrder", index), "must be unique within the record")
		}
		seen[input.NoteOrder] = struct{}{}

		switch input.NoteType {
		case NoteKindText:
			if input.Content == nil {
				return nil, apperrors.Validation(fmt.Sprintf("notes[%d].content", index), "is required for text notes")
			}
			input.ImageURL = nil
		case NoteKindImage:
			if input.ImageURL == nil {
				return nil, apperrors.Validation(fmt.Sprintf("notes[%d].imageUrl", index), "is required for image notes")
			}
			input.Content = nil
		}
		normalized = append(normalized, input)
	}
	return normalized, nil
}

func normalizeSymbol(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// trimOptional trims value and maps blank strings to nil.
func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
