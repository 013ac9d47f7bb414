package tools

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Intent labels produced by the intent classifier.
const (
	IntentCourseSales           = "COURSE_SALES"
	IntentEnrollmentAnalysis    = "ENROLLMENT_ANALYSIS"
	IntentInstructorPerformance = "INSTRUCTOR_PERFORMANCE"
	IntentRevenueAnalysis       = "REVENUE_ANALYSIS"
	IntentGeneralAnalytics      = "GENERAL_ANALYTICS"
)

// Intents lists the known labels.
var Intents = []string{
	IntentCourseSales,
	IntentEnrollmentAnalysis,
	IntentInstructorPerformance,
	IntentRevenueAnalysis,
	IntentGeneralAnalytics,
}

var nonLabelRe = regexp.MustCompile(`[^A-Z_]+`)

// NormalizeIntent maps free classifier output onto a known label. The first
// known label mentioned wins; anything else is GENERAL_ANALYTICS.
func NormalizeIntent(label string) string {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	s = nonLabelRe.ReplaceAllString(s, " ")

	best, at := IntentGeneralAnalytics, -1
	for _, intent := range Intents {
		if i := strings.Index(s, intent); i >= 0 && (at < 0 || i < at) {
			best, at = intent, i
		}
	}
	return best
}

// IntentTitle renders a label for display, e.g. "Course Sales". A Caser
// is stateful, so each call builds its own.
func IntentTitle(intent string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(intent), "_", " "))
}
