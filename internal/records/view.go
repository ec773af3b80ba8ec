package records

import (
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/users"
)

// NoteView is the wire projection of a note.
type NoteView struct {
	ID        uint      `json:"id"`
	NoteOrder int       `json:"noteOrder"`
	NoteType  NoteKind  `json:"noteType"`
	Content   *string   `json:"content"`
	ImageURL  *string   `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordView is a record with its notes, its author's public profile and the per-caller aggregates.
type RecordView struct {
	ID              uint                `json:"id"`
	UserID          uint                `json:"userId"`
	Author          users.PublicProfile `json:"author"`
	ReviewDate      string              `json:"reviewDate"`
	CoinSymbol      string              `json:"coinSymbol"`
	ChartImageURL   *string             `json:"chartImageUrl"`
	ProfitLossRatio *float64            `json:"profitLossRatio"`
	Thinking        *string             `json:"thinking"`
	Notes           []NoteView          `json:"notes"`
	FavoriteCount   int64               `json:"favoriteCount"`
	IsFavorited     bool                `json:"isFavorited"`
	HasAIReview     bool                `json:"hasAiReview"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Page is one slice of a listing.
type Page struct {
	Items      []RecordView `json:"items"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"totalPages"`
}

// FavoriteState is the outcome of a favorite toggle.
type FavoriteState struct {
	IsFavorited   bool  `json:"isFavorited"`
	FavoriteCount int64 `json:"favoriteCount"`
}

type recordAggregate struct {
	ID            uint  `gorm:"column:id"`
	FavoriteCount int64 `gorm:"column:favorite_count"`
	IsFavorited   int64 `gorm:"column:is_favorited"`
	HasAIReview   int64 `gorm:"column:has_ai_review"`
}

func newRecordView(record Record, aggregate recordAggregate) RecordView {
	notes := make([]NoteView, 0, len(record.Notes))
	for _, note := range record.Notes {
		notes = append(notes, NoteView{
			ID:        note.ID,
			NoteOrder: note.NoteOrder,
			NoteType:  note.NoteType,
			Content:   note.Content,
			ImageURL:  note.ImageURL,
			CreatedAt: note.CreatedAt,
		})
	}
	return RecordView{
		ID:              record.ID,
		UserID:          record.UserID,
		Author:          record.Owner.Public(),
		ReviewDate:      record.ReviewDate,
		CoinSymbol:      record.CoinSymbol,
		ChartImageURL:   record.ChartImageURL,
		ProfitLossRatio: record.ProfitLossRatio,
		Thinking:        record.Thinking,
		Notes:           notes,
		FavoriteCount:   aggregate.FavoriteCount,
		IsFavorited:     aggregate.IsFavorited != 0,
		HasAIReview:     aggregate.HasAIReview != 0,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}
