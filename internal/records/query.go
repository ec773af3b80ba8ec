package records

import (
	"context"

	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const aggregateColumns = "tr.id AS id, " +
	"(SELECT COUNT(*) FROM favorites fc WHERE fc.record_id = tr.id) AS favorite_count, " +
	"EXISTS (SELECT 1 FROM favorites mf WHERE mf.record_id = tr.id AND mf.user_id = ?) AS is_favorited, " +
	"EXISTS (SELECT 1 FROM ai_reviews ar WHERE ar.record_id = tr.id) AS has_ai_review"

// List returns one page of eligible records matching filter, decorated for caller.
// The page query and the count query share one compiled predicate list.
func (s *Service) List(ctx context.Context, filter Filter, caller *users.Profile) (Page, error) {
	if err := filter.Validate(); err != nil {
		return Page{}, err
	}
	filter = filter.withDefaults()

	scope, err := compile(filter.Predicates(caller))
	if err != nil {
		return Page{}, s.internalError(opList, "predicate_invalid", err)
	}

	db := s.db.WithContext(ctx)
	var total int64
	if err := scope(eligibleRecords(db)).Count(&total).Error; err != nil {
		return Page{}, s.internalError(opList, "count_failed", err)
	}

	page := Page{
		Items:      []RecordView{},
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: totalPages(total, filter.Limit),
	}
	offset := (filter.Page - 1) * filter.Limit
	if total == 0 || int64(offset) >= total {
		return page, nil
	}

	items, err := s.load(db, scope, filter.Sort, filter.Limit, offset, caller)
	if err != nil {
		return Page{}, err
	}
	page.Items = items
	return page, nil
}

// Get returns one eligible record decorated for caller.
func (s *Service) Get(ctx context.Context, id uint, caller *users.Profile) (RecordView, error) {
	if id == 0 {
		return RecordView{}, ErrRecordNotFound
	}
	predicates := append(eligible(), Predicate{Field: FieldRecordID, Operator: OperatorEq, Value: id})
	scope, err := compile(predicates)
	if err != nil {
		return RecordView{}, s.internalError(opGet, "predicate_invalid", err)
	}
	items, err := s.load(s.db.WithContext(ctx), scope, SortLatest, 1, 0, caller)
	if err != nil {
		return RecordView{}, err
	}
	if len(items) == 0 {
		return RecordView{}, ErrRecordNotFound
	}
	return items[0], nil
}

// load selects the ordered ids with their aggregates, then hydrates the matching rows.
func (s *Service) load(db *gorm.DB, scope func(*gorm.DB) *gorm.DB, sort Sort, limit, offset int, caller *users.Profile) ([]RecordView, error) {
	var callerID uint
	if caller != nil {
		callerID = caller.ID
	}

	query := scope(eligibleRecords(db).Select(aggregateColumns, callerID))
	if sort == SortPopular {
		query = query.Order("favorite_count DESC")
	}
	var aggregates []recordAggregate
	err := query.
		Order("tr.created_at DESC").
		Order("tr.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&aggregates).Error
	if err != nil {
		return nil, s.internalError(opList, "page_query_failed", err)
	}
	if len(aggregates) == 0 {
		return []RecordView{}, nil
	}

	ids := make([]uint, 0, len(aggregates))
	for _, aggregate := range aggregates {
		ids = append(ids, aggregate.ID)
	}
	var rows []Record
	err = db.
		Preload("Owner").
		Preload("Notes", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("note_order ASC")
		}).
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, s.internalError(opList, "hydrate_failed", err, zap.Int("records", len(ids)))
	}

	byID := make(map[uint]Record, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	items := make([]RecordView, 0, len(aggregates))
	for _, aggregate := range aggregates {
		row, ok := byID[aggregate.ID]
		if !ok {
			continue
		}
		items = append(items, newRecordView(row, aggregate))
	}
	return items, nil
}

func eligibleRecords(db *gorm.DB) *gorm.DB {
	return db.Table("trading_records AS tr").Joins("JOIN users AS u ON u.id = tr.user_id")
}

func totalPages(total int64, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
