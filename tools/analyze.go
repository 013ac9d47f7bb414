package tools

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Analyze aggregates a query result according to intent.
//
//   - COURSE_SALES: total_enrollments summed per title, descending
//   - ENROLLMENT_ANALYSIS: total_enrollments summed over all rows
//   - INSTRUCTOR_PERFORMANCE: total_enrollments summed per instructor, descending
//   - REVENUE_ANALYSIS: total_enrollments*price summed per title, or the
//     price list when enrollments are absent
//   - anything else: descriptive statistics per column
func Analyze(t *Table, intent string) (*Table, error) {
	switch NormalizeIntent(intent) {
	case IntentCourseSales:
		if !t.Has("title", "total_enrollments") {
			return nil, fmt.Errorf("missing required columns for %s", IntentCourseSales)
		}
		return groupSum(t, "title", "total_enrollments", nil)

	case IntentEnrollmentAnalysis:
		if !t.Has("total_enrollments") {
			return &Table{Columns: []string{"message"}, Rows: [][]string{{"No enrollment data found."}}}, nil
		}
		values, ok := t.Floats("total_enrollments")
		if !ok {
			return nil, fmt.Errorf("column total_enrollments is not numeric")
		}
		return &Table{
			Columns: []string{"total_enrollments"},
			Rows:    [][]string{{FormatNumber(floats.Sum(values))}},
		}, nil

	case IntentInstructorPerformance:
		if !t.Has("instructor", "total_enrollments") {
			return nil, fmt.Errorf("missing required columns for %s", IntentInstructorPerformance)
		}
		return groupSum(t, "instructor", "total_enrollments", nil)

	case IntentRevenueAnalysis:
		switch {
		case t.Has("title", "total_enrollments", "price"):
			prices, ok := t.Floats("price")
			if !ok {
				return nil, fmt.Errorf("column price is not numeric")
			}
			res, err := groupSum(t, "title", "total_enrollments", prices)
			if err != nil {
				return nil, err
			}
			res.Columns[1] = "revenue"
			return res, nil
		case t.Has("title", "price"):
			return sortedBy(t, []string{"title", "price"}, "price")
		default:
			return nil, fmt.Errorf("missing required columns for %s", IntentRevenueAnalysis)
		}

	default:
		return Describe(t), nil
	}
}

// groupSum sums value per key. When weights is set each value is
// multiplied by the weight of its row first. Groups are ordered by
// descending total, ties by key.
func groupSum(t *Table, key, value string, weights []float64) (*Table, error) {
	values, ok := t.Floats(value)
	if !ok {
		return nil, fmt.Errorf("column %s is not numeric", value)
	}
	ki := t.Index(key)

	totals := make(map[string]float64)
	for r, row := range t.Rows {
		v := values[r]
		if weights != nil {
			v *= weights[r]
		}
		totals[row[ki]] += v
	}

	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool { return totals[keys[i]] > totals[keys[j]] })

	res := &Table{Columns: []string{key, value}}
	for _, k := range keys {
		res.Rows = append(res.Rows, []string{k, FormatNumber(totals[k])})
	}
	return res, nil
}

// sortedBy projects columns and orders rows by descending numeric column.
func sortedBy(t *Table, columns []string, by string) (*Table, error) {
	values, ok := t.Floats(by)
	if !ok {
		return nil, fmt.Errorf("column %s is not numeric", by)
	}
	order := make([]int, len(t.Rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })

	res := &Table{Columns: append([]string(nil), columns...)}
	for _, r := range order {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = t.Rows[r][t.Index(c)]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// Describe summarises every column. Numeric columns get count, mean, std,
// min, quartiles and max; text columns get count, unique, top and freq.
// The first column, "index", names the statistic.
func Describe(t *Table) *Table {
	numeric := make(map[string][]float64)
	hasText := false
	for _, c := range t.Columns {
		if v, ok := t.Floats(c); ok && len(v) > 0 {
			numeric[c] = v
		} else {
			hasText = true
		}
	}

	var stats []string
	stats = append(stats, "count")
	if hasText {
		stats = append(stats, "unique", "top", "freq")
	}
	if len(numeric) > 0 {
		stats = append(stats, "mean", "std", "min", "25%", "50%", "75%", "max")
	}

	res := &Table{Columns: append([]string{"index"}, t.Columns...)}
	for _, s := range stats {
		row := make([]string, 0, len(t.Columns)+1)
		row = append(row, s)
		for _, c := range t.Columns {
			if v, ok := numeric[c]; ok {
				row = append(row, numericStat(v, s))
			} else {
				row = append(row, textStat(t, c, s))
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func numericStat(v []float64, s string) string {
	switch s {
	case "count":
		return FormatNumber(float64(len(v)))
	case "mean":
		return FormatNumber(stat.Mean(v, nil))
	case "std":
		if len(v) < 2 {
			return ""
		}
		return FormatNumber(stat.StdDev(v, nil))
	case "min":
		return FormatNumber(floats.Min(v))
	case "max":
		return FormatNumber(floats.Max(v))
	case "25%":
		return FormatNumber(percentile(v, 0.25))
	case "50%":
		return FormatNumber(percentile(v, 0.50))
	case "75%":
		return FormatNumber(percentile(v, 0.75))
	default:
		return ""
	}
}

func textStat(t *Table, column, s string) string {
	i := t.Index(column)
	counts := make(map[string]int)
	var order []string
	n := 0
	for _, row := range t.Rows {
		if row[i] == "" {
			continue
		}
		n++
		if counts[row[i]] == 0 {
			order = append(order, row[i])
		}
		counts[row[i]]++
	}
	top, freq := "", 0
	for _, v := range order {
		if counts[v] > freq {
			top, freq = v, counts[v]
		}
	}

	switch s {
	case "count":
		return fmt.Sprint(n)
	case "unique":
		return fmt.Sprint(len(counts))
	case "top":
		return top
	case "freq":
		if freq == 0 {
			return ""
		}
		return fmt.Sprint(freq)
	default:
		return ""
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(v []float64, p float64) float64 {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
