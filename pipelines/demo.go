package pipelines

import (
	"github.com/scttfrdmn/pipekit/adapter/llm"
)

// DemoModel returns a canned model that answers every prompt of the shipped
// pipelines, for dry runs without provider credentials.
func DemoModel() *llm.MockLLM {
	return llm.NewMockLLM(demoRules()...)
}

func demoRules() []llm.MockRule {
	return []llm.MockRule{
		{Match: "intent classifier", Reply: "COURSE_SALES"},
		{Match: "SQL query writer", Reply: demoQuery},
		{Match: "insight writer", Reply: "Enrollments concentrate on a handful of courses. " +
			"The ranking below lists every course by its number of enrollments."},

		{Match: "requirements analyst", Reply: demoRequirements},
		{Match: "database designer", Reply: demoDesign},
		{Match: "SQLite DDL writer", Reply: demoDDL},

		{Match: "competitor identifier", Reply: `{"competitors": ["Coursera", "Udemy", "edX", "Pluralsight", "LinkedIn Learning"]}`},
		{Match: "competitor analyst", Reply: "## Position\n\nA large catalogue platform competing on breadth and price."},
		{Match: "SWOT analyst", Reply: demoSWOT},
		{Match: "report generator", Reply: demoReport},
	}
}

const demoQuery = "```sql\n" + `SELECT c.title AS title, COUNT(e.enrollment_id) AS total_enrollments
FROM courses c
JOIN enrollments e ON e.course_id = c.course_id
GROUP BY c.title
ORDER BY total_enrollments DESC` + "\n```"

const demoRequirements = `Entities
- author: name, country
- book: title, year, author

Relationships
- each book has one author`

const demoDesign = `authors
- author_id INTEGER primary key
- name TEXT not null
- country TEXT

books
- book_id INTEGER primary key
- title TEXT not null
- year INTEGER
- author_id INTEGER references authors
- index on author_id`

const demoDDL = "```sql\n" + `CREATE TABLE authors (
    author_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    country TEXT
);
CREATE TABLE books (
    book_id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    year INTEGER,
    author_id INTEGER REFERENCES authors(author_id)
);
CREATE INDEX idx_books_author ON books(author_id);` + "\n```"

const demoSWOT = `## Strengths
- Focused catalogue

## Weaknesses
- Smaller brand

## Opportunities
- Corporate training

## Threats
- Price pressure from large platforms`

const demoReport = "```html\n" + `<!DOCTYPE html>
<html>
<head><title>Competitive Analysis</title><style>body{font-family:sans-serif}</style></head>
<body>
<h1>Competitive Analysis</h1>
<p>Five competitors were analyzed.</p>
</body>
</html>` + "\n```"
