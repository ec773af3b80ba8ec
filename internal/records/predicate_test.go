package records

import (
	"net/url"
	"testing"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateRender(t *testing.T) {
	testCases := []struct {
		name      string
		predicate Predicate
		sql       string
		args      []any
	}{
		{
			name:      "equality",
			predicate: Predicate{Field: FieldOwnerID, Operator: OperatorEq, Value: uint(7)},
			sql:       "tr.user_id = ?",
			args:      []any{uint(7)},
		},
		{
			name:      "substring",
			predicate: Predicate{Field: FieldCoinSymbol, Operator: OperatorContains, Value: "BTC"},
			sql:       "instr(tr.coin_symbol, ?) > 0",
			args:      []any{"BTC"},
		},
		{
			name:      "lower bound",
			predicate: Predicate{Field: FieldReviewDate, Operator: OperatorGte, Value: "2024-01-01"},
			sql:       "tr.review_date >= ?",
			args:      []any{"2024-01-01"},
		},
		{
			name:      "upper bound",
			predicate: Predicate{Field: FieldReviewDate, Operator: OperatorLte, Value: "2024-01-31"},
			sql:       "tr.review_date <= ?",
			args:      []any{"2024-01-31"},
		},
		{
			name:      "review exists",
			predicate: Predicate{Field: FieldAIReview, Operator: OperatorExists},
			sql:       "EXISTS (SELECT 1 FROM ai_reviews ar WHERE ar.record_id = tr.id)",
		},
		{
			name:      "review missing",
			predicate: Predicate{Field: FieldAIReview, Operator: OperatorNotExists},
			sql:       "NOT EXISTS (SELECT 1 FROM ai_reviews ar WHERE ar.record_id = tr.id)",
		},
		{
			name:      "favorited by caller",
			predicate: Predicate{Field: FieldFavoritedBy, Operator: OperatorExists, Value: uint(3)},
			sql:       "EXISTS (SELECT 1 FROM favorites fb WHERE fb.record_id = tr.id AND fb.user_id = ?)",
			args:      []any{uint(3)},
		},
		{
			name:      "never",
			predicate: Predicate{Operator: OperatorNever},
			sql:       "1 = 0",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			sql, args, err := testCase.predicate.Render()
			require.NoError(t, err)
			assert.Equal(t, testCase.sql, sql)
			assert.Equal(t, testCase.args, args)
		})
	}
}

func TestPredicateRenderRejectsMisuse(t *testing.T) {
	testCases := []struct {
		name      string
		predicate Predicate
	}{
		{name: "unknown field", predicate: Predicate{Field: Field("coin_symbol; DROP TABLE users"), Operator: OperatorEq, Value: "x"}},
		{name: "unknown operator", predicate: Predicate{Field: FieldCoinSymbol, Operator: Operator("like"), Value: "x"}},
		{name: "exists on column", predicate: Predicate{Field: FieldCoinSymbol, Operator: OperatorExists}},
		{name: "comparison on subquery", predicate: Predicate{Field: FieldAIReview, Operator: OperatorEq, Value: true}},
		{name: "missing value", predicate: Predicate{Field: FieldOwnerID, Operator: OperatorEq}},
		{name: "missing caller", predicate: Predicate{Field: FieldFavoritedBy, Operator: OperatorExists}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, _, err := testCase.predicate.Render()
			require.Error(t, err)
		})
	}
}

func TestValuesNeverReachSQLText(t *testing.T) {
	hostile := "BTC' OR '1'='1"
	sql, args, err := Predicate{Field: FieldCoinSymbol, Operator: OperatorContains, Value: hostile}.Render()
	require.NoError(t, err)
	assert.NotContains(t, sql, hostile)
	assert.Equal(t, []any{hostile}, args)
}

func TestParseFilterDefaults(t *testing.T) {
	filter, err := ParseFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, filter.Page)
	assert.Equal(t, DefaultLimit, filter.Limit)
	assert.Equal(t, SortLatest, filter.Sort)
	assert.Nil(t, filter.HasAIReview)
}

func TestParseFilterReadsEveryParameter(t *testing.T) {
	filter, err := ParseFilter(url.Values{
		"page":        {"3"},
		"limit":       {"50"},
		"sort":        {"mine"},
		"coin":        {" BTC "},
		"userId":      {"12"},
		"dateFrom":    {"2024-01-01"},
		"dateTo":      {"2024-02-29"},
		"hasAiReview": {"false"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, filter.Page)
	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, SortMine, filter.Sort)
	assert.Equal(t, "BTC", filter.Coin)
	assert.Equal(t, uint(12), filter.UserID)
	assert.Equal(t, "2024-01-01", filter.DateFrom)
	assert.Equal(t, "2024-02-29", filter.DateTo)
	require.NotNil(t, filter.HasAIReview)
	assert.False(t, *filter.HasAIReview)
}

func TestParseFilterRejectsInvalidParameters(t *testing.T) {
	testCases := []struct {
		name  string
		query url.Values
		field string
	}{
		{name: "zero page", query: url.Values{"page": {"0"}}, field: "page"},
		{name: "text page", query: url.Values{"page": {"two"}}, field: "page"},
		{name: "zero limit", query: url.Values{"limit": {"0"}}, field: "limit"},
		{name: "large limit", query: url.Values{"limit": {"101"}}, field: "limit"},
		{name: "unknown sort", query: url.Values{"sort": {"oldest"}}, field: "sort"},
		{name: "long coin", query: url.Values{"coin": {"ABCDEFGHIJKLMNOPQRSTU"}}, field: "coin"},
		{name: "negative user", query: url.Values{"userId": {"-4"}}, field: "userId"},
		{name: "bad from", query: url.Values{"dateFrom": {"2024-13-01"}}, field: "dateFrom"},
		{name: "bad to", query: url.Values{"dateTo": {"yesterday"}}, field: "dateTo"},
		{name: "bad flag", query: url.Values{"hasAiReview": {"maybe"}}, field: "hasAiReview"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ParseFilter(testCase.query)
			require.Error(t, err)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind())
			assert.Equal(t, testCase.field, appErr.Field())
		})
	}
}

func TestCallerScopedSortsMatchNothingForAnonymousCallers(t *testing.T) {
	for _, sort := range []Sort{SortMine, SortFavorites} {
		predicates := Filter{Sort: sort}.Predicates(nil)
		assert.Equal(t, Predicate{Operator: OperatorNever}, predicates[len(predicates)-1], "sort %s", sort)
	}

	caller := &users.Profile{ID: 9, IsActive: true}
	predicates := Filter{Sort: SortFavorites}.Predicates(caller)
	assert.Equal(t, Predicate{Field: FieldFavoritedBy, Operator: OperatorExists, Value: uint(9)}, predicates[len(predicates)-1])
}

func TestOwns(t *testing.T) {
	record := Record{UserID: 4}
	assert.True(t, Owns(users.Profile{ID: 4, IsActive: true}, record))
	assert.False(t, Owns(users.Profile{ID: 5, IsActive: true}, record))
	assert.False(t, Owns(users.Profile{ID: 4, IsActive: false}, record))
	assert.False(t, Owns(users.Profile{}, Record{}))
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, totalPages(0, 20))
	assert.Equal(t, 1, totalPages(20, 20))
	assert.Equal(t, 2, totalPages(21, 20))
	assert.Equal(t, 5, totalPages(5, 1))
}
