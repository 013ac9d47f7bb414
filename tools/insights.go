package tools

import (
	"fmt"
)

// Insights phrases an analysis result as readable lines.
func Insights(t *Table, intent string) []string {
	if t == nil || t.Len() == 0 {
		return []string{"No data available for generating insights."}
	}

	var out []string
	switch NormalizeIntent(intent) {
	case IntentCourseSales:
		out = append(out,
			fmt.Sprintf("The top-selling course is '%s' with %s enrollments.", t.Cell(0, "title"), t.Cell(0, "total_enrollments")),
			"Complete course sales ranking:")
		for i := range t.Rows {
			out = append(out, fmt.Sprintf("%d. %s: %s enrollments", i+1, t.Cell(i, "title"), t.Cell(i, "total_enrollments")))
		}

	case IntentEnrollmentAnalysis:
		total := "0"
		if v, ok := t.Floats("total_enrollments"); ok {
			var sum float64
			for _, x := range v {
				sum += x
			}
			total = FormatNumber(sum)
		}
		out = append(out, fmt.Sprintf("Total enrollments across all courses: %s", total))

	case IntentInstructorPerformance:
		out = append(out,
			fmt.Sprintf("The best-performing instructor is '%s' with %s enrollments.", t.Cell(0, "instructor"), t.Cell(0, "total_enrollments")),
			"Instructor performance ranking:")
		for i := range t.Rows {
			out = append(out, fmt.Sprintf("%d. %s: %s enrollments", i+1, t.Cell(i, "instructor"), t.Cell(i, "total_enrollments")))
		}

	case IntentRevenueAnalysis:
		switch {
		case t.Has("revenue"):
			out = append(out,
				fmt.Sprintf("The course generating the highest revenue is '%s' with total revenue of %s.", t.Cell(0, "title"), t.Cell(0, "revenue")),
				"Revenue breakdown by course:")
			for i := range t.Rows {
				out = append(out, fmt.Sprintf("%d. %s: %s", i+1, t.Cell(i, "title"), t.Cell(i, "revenue")))
			}
		case t.Has("price"):
			out = append(out,
				fmt.Sprintf("The most expensive course is '%s' priced at %s.", t.Cell(0, "title"), t.Cell(0, "price")),
				"Price ranking:")
			for i := range t.Rows {
				out = append(out, fmt.Sprintf("%d. %s: %s", i+1, t.Cell(i, "title"), t.Cell(i, "price")))
			}
		}

	default:
		out = append(out, "Summary of analysis:")
		for _, c := range t.Columns {
			out = append(out, fmt.Sprintf("%s: %s", c, t.Cell(0, c)))
		}
	}
	return out
}
