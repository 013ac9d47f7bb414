package tools

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesTSV = "title\tinstructor\ttotal_enrollments\tprice\n" +
	"Intro to Python\tAlice Johnson\t10\t49.99\n" +
	"Advanced SQL\tAlice Johnson\t4\t59.99\n" +
	"Web Dev Bootcamp\tBob Smith\t7\t99.99\n" +
	"Intro to Python\tAlice Johnson\t2\t49.99\n"

func mustTable(t *testing.T, s string) *Table {
	t.Helper()
	tbl, err := ParseTSVString(s)
	require.NoError(t, err)
	return tbl
}

func TestParseTSV(t *testing.T) {
	tbl := mustTable(t, salesTSV)
	assert.Equal(t, []string{"title", "instructor", "total_enrollments", "price"}, tbl.Columns)
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, salesTSV, tbl.String())

	_, err := ParseTSVString("a\tb\n1\n")
	assert.Error(t, err)
	_, err = ParseTSVString("")
	assert.Error(t, err)

	_, ok := tbl.Floats("title")
	assert.False(t, ok)
	v, ok := tbl.Floats("total_enrollments")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 4, 7, 2}, v)
}

func TestNormalizeIntent(t *testing.T) {
	tests := map[string]string{
		"COURSE_SALES":                      IntentCourseSales,
		"  revenue analysis ":               IntentRevenueAnalysis,
		"Intent: INSTRUCTOR_PERFORMANCE.":   IntentInstructorPerformance,
		"**ENROLLMENT_ANALYSIS**":           IntentEnrollmentAnalysis,
		"something else":                    IntentGeneralAnalytics,
		"COURSE_SALES or REVENUE_ANALYSIS?": IntentCourseSales,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeIntent(in), in)
	}
	assert.Equal(t, "Instructor Performance", IntentTitle(IntentInstructorPerformance))
}

func TestTSVQuotesSpecialCells(t *testing.T) {
	tbl := &Table{
		Columns: []string{"title", "notes"},
		Rows: [][]string{
			{"Intro to Python", "line one\nline two"},
			{"Advanced\tSQL", `says "hi"`},
			{"Plain", ""},
		},
	}
	back := mustTable(t, tbl.String())
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)

	loose := mustTable(t, "a\tb\n5\" inch\tx\n")
	assert.Equal(t, [][]string{{"5\" inch", "x"}}, loose.Rows)
}

func TestIntentHelpersConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if got := IntentTitle(IntentInstructorPerformance); got != "Instructor Performance" {
					errs <- got
					return
				}
				if got := NormalizeIntent("revenue analysis"); got != IntentRevenueAnalysis {
					errs <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("unexpected result under concurrency: %q", got)
	}
}

func TestAnalyze(t *testing.T) {
	tbl := mustTable(t, salesTSV)

	tests := []struct {
		intent string
		want   string
	}{
		{IntentCourseSales, "title\ttotal_enrollments\nIntro to Python\t12\nWeb Dev Bootcamp\t7\nAdvanced SQL\t4\n"},
		{IntentEnrollmentAnalysis, "total_enrollments\n23\n"},
		{IntentInstructorPerformance, "instructor\ttotal_enrollments\nAlice Johnson\t16\nBob Smith\t7\n"},
		{IntentRevenueAnalysis, "title\trevenue\nWeb Dev Bootcamp\t699.93\nIntro to Python\t599.88\nAdvanced SQL\t239.96\n"},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			res, err := Analyze(tbl, tt.intent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.String())
		})
	}
}

func TestAnalyzeFallbacks(t *testing.T) {
	prices := mustTable(t, "title\tprice\nA\t10\nB\t30\nC\t20\n")
	res, err := Analyze(prices, IntentRevenueAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "title\tprice\nB\t30\nC\t20\nA\t10\n", res.String())

	res, err = Analyze(prices, IntentEnrollmentAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "message\nNo enrollment data found.\n", res.String())

	_, err = Analyze(prices, IntentCourseSales)
	assert.ErrorContains(t, err, "missing required columns for COURSE_SALES")
	_, err = Analyze(mustTable(t, "x\n1\n"), IntentRevenueAnalysis)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	tbl := mustTable(t, "country\tminutes\nUSA\t10\nUK\t20\nUSA\t30\nFrance\t40\n")
	res, err := Analyze(tbl, "GENERAL_ANALYTICS")
	require.NoError(t, err)

	assert.Equal(t, []string{"index", "country", "minutes"}, res.Columns)
	got := map[string][]string{}
	for _, row := range res.Rows {
		got[row[0]] = row[1:]
	}
	assert.Equal(t, []string{"4", "4"}, got["count"])
	assert.Equal(t, []string{"3", ""}, got["unique"])
	assert.Equal(t, []string{"USA", ""}, got["top"])
	assert.Equal(t, []string{"2", ""}, got["freq"])
	assert.Equal(t, []string{"", "25"}, got["mean"])
	assert.Equal(t, []string{"", "12.91"}, got["std"])
	assert.Equal(t, []string{"", "17.5"}, got["25%"])
	assert.Equal(t, []string{"", "25"}, got["50%"])
	assert.Equal(t, []string{"", "40"}, got["max"])
}

func TestInsights(t *testing.T) {
	sales, err := Analyze(mustTable(t, salesTSV), IntentCourseSales)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"The top-selling course is 'Intro to Python' with 12 enrollments.",
		"Complete course sales ranking:",
		"1. Intro to Python: 12 enrollments",
		"2. Web Dev Bootcamp: 7 enrollments",
		"3. Advanced SQL: 4 enrollments",
	}, Insights(sales, IntentCourseSales))

	rev, err := Analyze(mustTable(t, salesTSV), IntentRevenueAnalysis)
	require.NoError(t, err)
	lines := Insights(rev, IntentRevenueAnalysis)
	assert.Equal(t, "The course generating the highest revenue is 'Web Dev Bootcamp' with total revenue of 699.93.", lines[0])
	assert.Equal(t, "Revenue breakdown by course:", lines[1])

	prices := mustTable(t, "title\tprice\nB\t30\n")
	assert.Equal(t, "The most expensive course is 'B' priced at 30.", Insights(prices, IntentRevenueAnalysis)[0])

	total := mustTable(t, "total_enrollments\n23\n")
	assert.Equal(t, []string{"Total enrollments across all courses: 23"}, Insights(total, IntentEnrollmentAnalysis))

	general := mustTable(t, "a\tb\n1\tx\n")
	assert.Equal(t, []string{"Summary of analysis:", "a: 1", "b: x"}, Insights(general, "GENERAL_ANALYTICS"))

	empty := &Table{Columns: []string{"title"}}
	assert.Equal(t, []string{"No data available for generating insights."}, Insights(empty, IntentCourseSales))
}

func TestSeedAndQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "datatechcon.db")
	require.NoError(t, SeedDemoDatabase(ctx, path, 42))

	q, err := OpenDatabase(path)
	require.NoError(t, err)
	defer q.Close()

	res, err := q.Run(ctx, "SELECT COUNT(*) AS n FROM learners")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"50"}}, res.Rows)

	res, err = q.Run(ctx, `SELECT c.title, i.name AS instructor, COUNT(e.enrollment_id) AS total_enrollments, c.price
		FROM courses c JOIN instructors i ON i.instructor_id = c.instructor_id
		LEFT JOIN enrollments e ON e.course_id = c.course_id
		GROUP BY c.course_id ORDER BY c.course_id`)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Len())
	assert.Equal(t, "Intro to Python", res.Cell(0, "title"))
	assert.Equal(t, "49.99", res.Cell(0, "price"))

	_, err = q.Run(ctx, "SELECT * FROM nope")
	assert.ErrorContains(t, err, "database query error")
	_, err = q.Run(ctx, "  ")
	assert.Error(t, err)

	// Same seed, same data.
	other := filepath.Join(t.TempDir(), "again.db")
	require.NoError(t, SeedDemoDatabase(ctx, other, 42))
	q2, err := OpenDatabase(other)
	require.NoError(t, err)
	defer q2.Close()
	a, err := q.Run(ctx, "SELECT * FROM sessions ORDER BY session_id")
	require.NoError(t, err)
	b, err := q2.Run(ctx, "SELECT * FROM sessions ORDER BY session_id")
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
}

func TestQueryKeepsTimeOfDay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	_, err := BuildDatabase(ctx, path, `CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME, day DATE);
		INSERT INTO events VALUES (1, '2024-05-01 13:45:10', '2024-05-01')`)
	require.NoError(t, err)

	q, err := OpenDatabase(path)
	require.NoError(t, err)
	defer q.Close()

	res, err := q.Run(ctx, "SELECT at, day FROM events")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 13:45:10", res.Cell(0, "at"))
	assert.Equal(t, "2024-05-01", res.Cell(0, "day"))
}

func TestCellText(t *testing.T) {
	assert.Equal(t, "2024-05-01 13:45:10", cellText(time.Date(2024, 5, 1, 13, 45, 10, 0, time.UTC)))
	assert.Equal(t, "2024-05-01", cellText(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "", cellText(nil))
	assert.Equal(t, "12", cellText(int64(12)))
	assert.Equal(t, "abc", cellText([]byte("abc")))
}

func TestOpenDatabaseMissing(t *testing.T) {
	_, err := OpenDatabase(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestBuildDatabase(t *testing.T) {
	ctx := context.Background()
	script := "CREATE TABLE a (id INTEGER PRIMARY KEY, name TEXT);\n\nCREATE INDEX idx_a_name ON a(name);\n"
	path := filepath.Join(t.TempDir(), "built.sqlite")

	n, err := BuildDatabase(ctx, path, script)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = BuildDatabase(ctx, path, script)
	assert.Error(t, err, "existing file")

	_, err = BuildDatabase(ctx, filepath.Join(t.TempDir(), "bad.sqlite"), "CREATE TABLE (;")
	assert.Error(t, err)
	_, err = BuildDatabase(ctx, filepath.Join(t.TempDir(), "none.sqlite"), " ; ")
	assert.Error(t, err)

	img, n, err := BuildDatabaseImage(ctx, script)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, strings.HasPrefix(string(img), "SQLite format 3"))
}

func TestExtractSQL(t *testing.T) {
	q, err := ExtractSQL("Here you go:\n```sql\nSELECT * FROM courses;\n```\nEnjoy")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM courses;", q)

	q, err = ExtractSQL("  SELECT 1 ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q)

	_, err = ExtractSQL("```sql\n```")
	assert.Error(t, err)
}

func TestCheckHTMLReport(t *testing.T) {
	doc := "```html\n<!DOCTYPE html><html><head><title> Acme Competitive Analysis </title></head><body><h1>SWOT</h1></body></html>\n```"
	title, err := CheckHTMLReport(doc)
	require.NoError(t, err)
	assert.Equal(t, "Acme Competitive Analysis", title)

	_, err = CheckHTMLReport("just some markdown")
	assert.Error(t, err)
	_, err = CheckHTMLReport("<html><body><p>x</p></body></html>")
	assert.ErrorContains(t, err, "no title")
	_, err = CheckHTMLReport("<html><head><title>t</title></head><body></body></html>")
	assert.ErrorContains(t, err, "empty")
}
