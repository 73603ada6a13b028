package dataquality

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const partialUnexpectedLimit = 20

type evaluation struct {
	success bool
	result  map[string]any
}

type expectationFunc func(b *Batch, kw kwargs) (evaluation, error)

var expectationRegistry = map[string]expectationFunc{
	"expect_column_to_exist":                     expectColumnToExist,
	"expect_table_columns_to_match_ordered_list": expectTableColumnsToMatchOrderedList,
	"expect_table_row_count_to_be_between":       expectTableRowCountToBeBetween,
	"expect_table_row_count_to_equal":            expectTableRowCountToEqual,
	"expect_column_values_to_not_be_null":        expectColumnValuesToNotBeNull,
	"expect_column_values_to_be_null":            expectColumnValuesToBeNull,
	"expect_column_values_to_be_unique":          expectColumnValuesToBeUnique,
	"expect_column_values_to_be_in_set":          expectColumnValuesToBeInSet,
	"expect_column_values_to_not_be_in_set":      expectColumnValuesToNotBeInSet,
	"expect_column_values_to_be_between":         expectColumnValuesToBeBetween,
	"expect_column_values_to_match_regex":        expectColumnValuesToMatchRegex,
	"expect_column_value_lengths_to_be_between":  expectColumnValueLengthsToBeBetween,
}

// SupportedExpectations lists the expectation types the validator evaluates.
func SupportedExpectations() []string {
	return sortedKeys(expectationRegistry)
}

func expectColumnToExist(b *Batch, kw kwargs) (evaluation, error) {
	column, err := kw.str("column")
	if err != nil {
		return evaluation{}, err
	}
	wantIndex, err := kw.optNumber("column_index")
	if err != nil {
		return evaluation{}, err
	}
	for i, col := range b.Columns {
		if col != column {
			continue
		}
		if wantIndex != nil && int(*wantIndex) != i {
			return evaluation{success: false, result: map[string]any{"observed_value": i}}, nil
		}
		return evaluation{success: true, result: map[string]any{}}, nil
	}
	return evaluation{success: false, result: map[string]any{}}, nil
}

func expectTableColumnsToMatchOrderedList(b *Batch, kw kwargs) (evaluation, error) {
	items, err := kw.list("column_list")
	if err != nil {
		return evaluation{}, err
	}
	expected := make([]string, len(items))
	for i, item := range items {
		expected[i] = stringify(item)
	}

	var mismatched []map[string]any
	n := max(len(expected), len(b.Columns))
	for i := 0; i < n; i++ {
		var want, got any
		if i < len(expected) {
			want = expected[i]
		}
		if i < len(b.Columns) {
			got = b.Columns[i]
		}
		if want != got {
			mismatched = append(mismatched, map[string]any{
				"Expected Column Position": i,
				"Expected":                 want,
				"Found":                    got,
			})
		}
	}

	result := map[string]any{"observed_value": append([]string(nil), b.Columns...)}
	if len(mismatched) > 0 {
		result["details"] = map[string]any{"mismatched": mismatched}
	}
	return evaluation{success: len(mismatched) == 0, result: result}, nil
}

func expectTableRowCountToBeBetween(b *Batch, kw kwargs) (evaluation, error) {
	minValue, err := kw.optNumber("min_value")
	if err != nil {
		return evaluation{}, err
	}
	maxValue, err := kw.optNumber("max_value")
	if err != nil {
		return evaluation{}, err
	}
	if minValue == nil && maxValue == nil {
		return evaluation{}, fmt.Errorf("min_value and max_value cannot both be null")
	}
	strictMin, err := kw.flag("strict_min")
	if err != nil {
		return evaluation{}, err
	}
	strictMax, err := kw.flag("strict_max")
	if err != nil {
		return evaluation{}, err
	}

	count := float64(len(b.Rows))
	ok := withinBounds(count, minValue, maxValue, strictMin, strictMax)
	return evaluation{success: ok, result: map[string]any{"observed_value": len(b.Rows)}}, nil
}

func expectTableRowCountToEqual(b *Batch, kw kwargs) (evaluation, error) {
	want, err := kw.number("value")
	if err != nil {
		return evaluation{}, err
	}
	return evaluation{
		success: float64(len(b.Rows)) == want,
		result:  map[string]any{"observed_value": len(b.Rows)},
	}, nil
}

func expectColumnValuesToNotBeNull(b *Batch, kw kwargs) (evaluation, error) {
	return evaluateNullity(b, kw, func(v any) bool { return v == nil })
}

func expectColumnValuesToBeNull(b *Batch, kw kwargs) (evaluation, error) {
	return evaluateNullity(b, kw, func(v any) bool { return v != nil })
}

func expectColumnValuesToBeUnique(b *Batch, kw kwargs) (evaluation, error) {
	column, err := kw.str("column")
	if err != nil {
		return evaluation{}, err
	}
	values, err := b.columnValues(column)
	if err != nil {
		return evaluation{}, err
	}
	counts := make(map[string]int, len(values))
	for _, v := range values {
		if v != nil {
			counts[uniqueKey(v)]++
		}
	}
	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		return counts[uniqueKey(v)] > 1, nil
	})
}

func expectColumnValuesToBeInSet(b *Batch, kw kwargs) (evaluation, error) {
	set, err := kw.list("value_set")
	if err != nil {
		return evaluation{}, err
	}
	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		return !inSet(v, set), nil
	})
}

func expectColumnValuesToNotBeInSet(b *Batch, kw kwargs) (evaluation, error) {
	set, err := kw.list("value_set")
	if err != nil {
		return evaluation{}, err
	}
	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		return inSet(v, set), nil
	})
}

func expectColumnValuesToBeBetween(b *Batch, kw kwargs) (evaluation, error) {
	minValue, err := kw.optBound("min_value")
	if err != nil {
		return evaluation{}, err
	}
	maxValue, err := kw.optBound("max_value")
	if err != nil {
		return evaluation{}, err
	}
	if minValue == nil && maxValue == nil {
		return evaluation{}, fmt.Errorf("min_value and max_value cannot both be null")
	}
	strictMin, err := kw.flag("strict_min")
	if err != nil {
		return evaluation{}, err
	}
	strictMax, err := kw.flag("strict_max")
	if err != nil {
		return evaluation{}, err
	}

	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		if minValue != nil {
			c, ok := compareValues(v, minValue)
			if !ok || c < 0 || (strictMin && c == 0) {
				return true, nil
			}
		}
		if maxValue != nil {
			c, ok := compareValues(v, maxValue)
			if !ok || c > 0 || (strictMax && c == 0) {
				return true, nil
			}
		}
		return false, nil
	})
}

func expectColumnValuesToMatchRegex(b *Batch, kw kwargs) (evaluation, error) {
	pattern, err := kw.str("regex")
	if err != nil {
		return evaluation{}, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return evaluation{}, fmt.Errorf("regex: %w", err)
	}
	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		return !re.MatchString(stringify(v)), nil
	})
}

func expectColumnValueLengthsToBeBetween(b *Batch, kw kwargs) (evaluation, error) {
	minValue, err := kw.optNumber("min_value")
	if err != nil {
		return evaluation{}, err
	}
	maxValue, err := kw.optNumber("max_value")
	if err != nil {
		return evaluation{}, err
	}
	if minValue == nil && maxValue == nil {
		return evaluation{}, fmt.Errorf("min_value and max_value cannot both be null")
	}
	return evaluateColumnMap(b, kw, func(v any) (bool, error) {
		n := float64(utf8.RuneCountInString(stringify(v)))
		return !withinBounds(n, minValue, maxValue, false, false), nil
	})
}

// evaluateColumnMap applies a per-value predicate to the non-null values of
// kwargs["column"]; mostly is the minimum passing fraction.
func evaluateColumnMap(b *Batch, kw kwargs, unexpected func(v any) (bool, error)) (evaluation, error) {
	column, err := kw.str("column")
	if err != nil {
		return evaluation{}, err
	}
	mostly, err := kw.mostly()
	if err != nil {
		return evaluation{}, err
	}
	values, err := b.columnValues(column)
	if err != nil {
		return evaluation{}, err
	}

	var missing, unexpectedCount int
	partial := make([]any, 0)
	for _, v := range values {
		if v == nil {
			missing++
			continue
		}
		bad, err := unexpected(v)
		if err != nil {
			return evaluation{}, err
		}
		if bad {
			unexpectedCount++
			if len(partial) < partialUnexpectedLimit {
				partial = append(partial, v)
			}
		}
	}

	total := len(values)
	nonMissing := total - missing
	success := nonMissing == 0 || float64(nonMissing-unexpectedCount)/float64(nonMissing) >= mostly

	return evaluation{
		success: success,
		result: map[string]any{
			"element_count":                 total,
			"missing_count":                 missing,
			"missing_percent":               percent(missing, total),
			"unexpected_count":              unexpectedCount,
			"unexpected_percent":            percent(unexpectedCount, nonMissing),
			"unexpected_percent_total":      percent(unexpectedCount, total),
			"unexpected_percent_nonmissing": percent(unexpectedCount, nonMissing),
			"partial_unexpected_list":       partial,
		},
	}, nil
}

// evaluateNullity handles the two null expectations, where missing values are
// the subject of the check instead of being skipped.
func evaluateNullity(b *Batch, kw kwargs, unexpected func(v any) bool) (evaluation, error) {
	column, err := kw.str("column")
	if err != nil {
		return evaluation{}, err
	}
	mostly, err := kw.mostly()
	if err != nil {
		return evaluation{}, err
	}
	values, err := b.columnValues(column)
	if err != nil {
		return evaluation{}, err
	}

	var unexpectedCount int
	partial := make([]any, 0)
	for _, v := range values {
		if unexpected(v) {
			unexpectedCount++
			if len(partial) < partialUnexpectedLimit {
				partial = append(partial, v)
			}
		}
	}

	total := len(values)
	success := total == 0 || float64(total-unexpectedCount)/float64(total) >= mostly
	return evaluation{
		success: success,
		result: map[string]any{
			"element_count":            total,
			"unexpected_count":         unexpectedCount,
			"unexpected_percent":       percent(unexpectedCount, total),
			"unexpected_percent_total": percent(unexpectedCount, total),
			"partial_unexpected_list":  partial,
		},
	}, nil
}

func withinBounds(v float64, minValue, maxValue *float64, strictMin, strictMax bool) bool {
	if minValue != nil {
		if v < *minValue || (strictMin && v == *minValue) {
			return false
		}
	}
	if maxValue != nil {
		if v > *maxValue || (strictMax && v == *maxValue) {
			return false
		}
	}
	return true
}

// compareValues orders v against bound numerically when both are numbers and
// lexically otherwise; ok is false when a number is compared with a
// non-numeric cell.
func compareValues(v any, bound any) (int, bool) {
	if fb, boundIsNumber := numericBound(bound); boundIsNumber {
		fv, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		switch {
		case fv < fb:
			return -1, true
		case fv > fb:
			return 1, true
		}
		return 0, true
	}
	sv, sb := stringify(v), stringify(bound)
	switch {
	case sv < sb:
		return -1, true
	case sv > sb:
		return 1, true
	}
	return 0, true
}

func numericBound(bound any) (float64, bool) {
	if _, isString := bound.(string); isString {
		return 0, false
	}
	return toFloat(bound)
}

func inSet(v any, set []any) bool {
	for _, item := range set {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

func uniqueKey(v any) string {
	if f, ok := toFloat(v); ok {
		return "n:" + stringify(f)
	}
	return "s:" + stringify(v)
}

func percent(n, d int) any {
	if d == 0 {
		return nil
	}
	return float64(n) / float64(d) * 100
}
