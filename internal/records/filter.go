package records

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/MarcoPoloResearchLab/traflow/internal/validation"
)

// Sort selects the ordering and, for SortMine and SortFavorites, a caller-scoped subset.
type Sort string

const (
	SortLatest    Sort = "latest"
	SortPopular   Sort = "popular"
	SortMine      Sort = "my"
	SortFavorites Sort = "favorites"

	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100

	maxCoinFilterLength = 20
)

// Filter holds the listing parameters. Zero values mean "not supplied".
type Filter struct {
	Page        int
	Limit       int
	Sort        Sort
	Coin        string
	UserID      uint
	DateFrom    string
	DateTo      string
	HasAIReview *bool
}

// ParseFilter reads listing parameters from a query string and validates them.
func ParseFilter(values url.Values) (Filter, error) {
	filter := Filter{
		Sort:     Sort(strings.ToLower(strings.TrimSpace(values.Get("sort")))),
		Coin:     strings.TrimSpace(values.Get("coin")),
		DateFrom: strings.TrimSpace(values.Get("dateFrom")),
		DateTo:   strings.TrimSpace(values.Get("dateTo")),
	}
	if filter.Sort == "mine" {
		filter.Sort = SortMine
	}

	var err error
	if filter.Page, err = parsePositive(values, "page"); err != nil {
		return Filter{}, err
	}
	if filter.Limit, err = parsePositive(values, "limit"); err != nil {
		return Filter{}, err
	}
	userID, err := parsePositive(values, "userId")
	if err != nil {
		return Filter{}, err
	}
	filter.UserID = uint(userID)

	if raw := strings.TrimSpace(values.Get("hasAiReview")); raw != "" {
		flag, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return Filter{}, apperrors.Validation("hasAiReview", "must be true or false")
		}
		filter.HasAIReview = &flag
	}

	if err := filter.Validate(); err != nil {
		return Filter{}, err
	}
	return filter.withDefaults(), nil
}

// Validate checks a filter built in code. Zero values pass and take their defaults.
func (f Filter) Validate() error {
	if f.Page < 0 {
		return apperrors.Validation("page", "must be at least 1")
	}
	if f.Limit < 0 {
		return apperrors.Validation("limit", "must be at least 1")
	}
	if f.Limit > MaxLimit {
		return apperrors.Validation("limit", "must be at most "+strconv.Itoa(MaxLimit))
	}
	switch f.Sort {
	case "", SortLatest, SortPopular, SortMine, SortFavorites:
	default:
		return apperrors.Validation("sort", "must be one of: latest popular my favorites")
	}
	if utf8.RuneCountInString(f.Coin) > maxCoinFilterLength {
		return apperrors.Validation("coin", "must be at most "+strconv.Itoa(maxCoinFilterLength)+" characters")
	}
	if f.DateFrom != "" && !validation.IsISODate(f.DateFrom) {
		return apperrors.Validation("dateFrom", "must be a calendar date formatted YYYY-MM-DD")
	}
	if f.DateTo != "" && !validation.IsISODate(f.DateTo) {
		return apperrors.Validation("dateTo", "must be a calendar date formatted YYYY-MM-DD")
	}
	return nil
}

func (f Filter) withDefaults() Filter {
	if f.Page == 0 {
		f.Page = DefaultPage
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Sort == "" {
		f.Sort = SortLatest
	}
	return f
}

// Predicates translates the filter into the eligibility predicates plus one per supplied parameter.
// Caller-scoped sorts without a caller match nothing.
func (f Filter) Predicates(caller *users.Profile) []Predicate {
	predicates := eligible()
	if f.Coin != "" {
		predicates = append(predicates, Predicate{Field: FieldCoinSymbol, Operator: OperatorContains, Value: f.Coin})
	}
	if f.UserID != 0 {
		predicates = append(predicates, Predicate{Field: FieldOwnerID, Operator: OperatorEq, Value: f.UserID})
	}
	if f.DateFrom != "" {
		predicates = append(predicates, Predicate{Field: FieldReviewDate, Operator: OperatorGte, Value: f.DateFrom})
	}
	if f.DateTo != "" {
		predicates = append(predicates, Predicate{Field: FieldReviewDate, Operator: OperatorLte, Value: f.DateTo})
	}
	if f.HasAIReview != nil {
		operator := OperatorNotExists
		if *f.HasAIReview {
			operator = OperatorExists
		}
		predicates = append(predicates, Predicate{Field: FieldAIReview, Operator: operator})
	}

	switch f.Sort {
	case SortMine:
		if caller == nil || caller.ID == 0 {
			return append(predicates, Predicate{Operator: OperatorNever})
		}
		predicates = append(predicates, Predicate{Field: FieldOwnerID, Operator: OperatorEq, Value: caller.ID})
	case SortFavorites:
		if caller == nil || caller.ID == 0 {
			return append(predicates, Predicate{Operator: OperatorNever})
		}
		predicates = append(predicates, Predicate{Field: FieldFavoritedBy, Operator: OperatorExists, Value: caller.ID})
	}
	return predicates
}

func eligible() []Predicate {
	return []Predicate{
		{Field: FieldDeleted, Operator: OperatorEq, Value: false},
		{Field: FieldOwnerActive, Operator: OperatorEq, Value: true},
	}
}

func parsePositive(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, apperrors.Validation(key, "must be a positive integer")
	}
	return parsed, nil
}
