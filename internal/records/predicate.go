package records

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Field names a filterable attribute of an eligible record.
type Field string

const (
	FieldRecordID    Field = "record_id"
	FieldOwnerID     Field = "owner_id"
	FieldDeleted     Field = "deleted"
	FieldOwnerActive Field = "owner_active"
	FieldCoinSymbol  Field = "coin_symbol"
	FieldReviewDate  Field = "review_date"
	FieldAIReview    Field = "ai_review"
	FieldFavoritedBy Field = "favorited_by"
	// FieldNone is used with OperatorNever only.
	FieldNone Field = ""
)

// Operator is the comparison applied by a predicate.
type Operator string

const (
	OperatorEq        Operator = "eq"
	OperatorGte       Operator = "gte"
	OperatorLte       Operator = "lte"
	OperatorContains  Operator = "contains"
	OperatorExists    Operator = "exists"
	OperatorNotExists Operator = "not_exists"
	// OperatorNever matches no rows.
	OperatorNever Operator = "never"
)

// Predicate is one conjunct of a record query.
type Predicate struct {
	Field    Field
	Operator Operator
	Value    any
}

var (
	errUnknownField    = errors.New("records: unknown predicate field")
	errUnknownOperator = errors.New("records: unknown predicate operator")
	errMissingValue    = errors.New("records: predicate value required")
)

type fieldMapping struct {
	column    string
	subquery  string
	parameter bool
}

// Columns assume the query aliases trading_records as tr and users as u.
var fieldMappings = map[Field]fieldMapping{
	FieldRecordID:    {column: "tr.id"},
	FieldOwnerID:     {column: "tr.user_id"},
	FieldDeleted:     {column: "tr.is_deleted"},
	FieldOwnerActive: {column: "u.is_active"},
	FieldCoinSymbol:  {column: "tr.coin_symbol"},
	FieldReviewDate:  {column: "tr.review_date"},
	FieldAIReview:    {subquery: "SELECT 1 FROM ai_reviews ar WHERE ar.record_id = tr.id"},
	FieldFavoritedBy: {subquery: "SELECT 1 FROM favorites fb WHERE fb.record_id = tr.id AND fb.user_id = ?", parameter: true},
}

// Render converts the predicate into a SQL fragment with positional arguments.
// Column names come only from the fixed field table; values are always bound.
func (p Predicate) Render() (string, []any, error) {
	if p.Operator == OperatorNever {
		return "1 = 0", nil, nil
	}
	mapping, ok := fieldMappings[p.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", errUnknownField, p.Field)
	}

	switch p.Operator {
	case OperatorExists, OperatorNotExists:
		if mapping.subquery == "" {
			return "", nil, fmt.Errorf("%w: %s does not support %s", errUnknownOperator, p.Field, p.Operator)
		}
		keyword := "EXISTS"
		if p.Operator == OperatorNotExists {
			keyword = "NOT EXISTS"
		}
		sql := fmt.Sprintf("%s (%s)", keyword, mapping.subquery)
		if mapping.parameter {
			if p.Value == nil {
				return "", nil, fmt.Errorf("%w: %s", errMissingValue, p.Field)
			}
			return sql, []any{p.Value}, nil
		}
		return sql, nil, nil
	}

	if mapping.column == "" {
		return "", nil, fmt.Errorf("%w: %s does not support %s", errUnknownOperator, p.Field, p.Operator)
	}
	if p.Value == nil {
		return "", nil, fmt.Errorf("%w: %s", errMissingValue, p.Field)
	}
	switch p.Operator {
	case OperatorEq:
		return mapping.column + " = ?", []any{p.Value}, nil
	case OperatorGte:
		return mapping.column + " >= ?", []any{p.Value}, nil
	case OperatorLte:
		return mapping.column + " <= ?", []any{p.Value}, nil
	case OperatorContains:
		// instr is case-sensitive, unlike LIKE in SQLite.
		return "instr(" + mapping.column + ", ?) > 0", []any{p.Value}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", errUnknownOperator, p.Operator)
	}
}

type renderedPredicate struct {
	sql  string
	args []any
}

// compile renders every predicate up front so a bad predicate fails before any query runs.
func compile(predicates []Predicate) (func(*gorm.DB) *gorm.DB, error) {
	rendered := make([]renderedPredicate, 0, len(predicates))
	for _, predicate := range predicates {
		sql, args, err := predicate.Render()
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, renderedPredicate{sql: sql, args: args})
	}
	return func(db *gorm.DB) *gorm.DB {
		for _, predicate := range rendered {
			db = db.Where(predicate.sql, predicate.args...)
		}
		return db
	}, nil
}
