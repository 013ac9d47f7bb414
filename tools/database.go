package tools

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SplitStatements splits a script on ';' and drops empty statements.
func SplitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// BuildDatabase creates a SQLite database at path and executes every
// statement of script in one transaction. It returns the number of
// statements executed. An existing file is an error.
func BuildDatabase(ctx context.Context, path, script string) (int, error) {
	stmts := SplitStatements(script)
	if len(stmts) == 0 {
		return 0, fmt.Errorf("script contains no statements")
	}
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("database %s already exists", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	if err := execAll(ctx, db, stmts); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return 0, err
	}
	return len(stmts), nil
}

// BuildDatabaseImage builds the database in a scratch directory and returns
// the file contents, ready to be persisted as an artifact.
func BuildDatabaseImage(ctx context.Context, script string) ([]byte, int, error) {
	dir, err := os.MkdirTemp("", "pipekit-db-*")
	if err != nil {
		return nil, 0, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "database.sqlite")
	n, err := BuildDatabase(ctx, path, script)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read database: %w", err)
	}
	return data, n, nil
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const demoSchema = `
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS enrollments;
DROP TABLE IF EXISTS courses;
DROP TABLE IF EXISTS instructors;
DROP TABLE IF EXISTS learners;
CREATE TABLE learners (
    learner_id INTEGER PRIMARY KEY,
    name TEXT,
    email TEXT,
    country TEXT,
    signup_date DATE
);
CREATE TABLE instructors (
    instructor_id INTEGER PRIMARY KEY,
    name TEXT,
    expertise TEXT
);
CREATE TABLE courses (
    course_id INTEGER PRIMARY KEY,
    title TEXT,
    category TEXT,
    price REAL,
    instructor_id INTEGER,
    FOREIGN KEY (instructor_id) REFERENCES instructors(instructor_id)
);
CREATE TABLE enrollments (
    enrollment_id INTEGER PRIMARY KEY,
    learner_id INTEGER,
    course_id INTEGER,
    enrollment_date DATE,
    FOREIGN KEY (learner_id) REFERENCES learners(learner_id),
    FOREIGN KEY (course_id) REFERENCES courses(course_id)
);
CREATE TABLE sessions (
    session_id INTEGER PRIMARY KEY,
    learner_id INTEGER,
    course_id INTEGER,
    session_date DATE,
    duration_minutes INTEGER,
    FOREIGN KEY (learner_id) REFERENCES learners(learner_id),
    FOREIGN KEY (course_id) REFERENCES courses(course_id)
)`

type demoCourse struct {
	id         int
	title      string
	category   string
	price      float64
	instructor int
}

var demoInstructors = []struct {
	id        int
	name      string
	expertise string
}{
	{1, "Alice Johnson", "Data Science"},
	{2, "Bob Smith", "Web Development"},
	{3, "Carol Williams", "Machine Learning"},
	{4, "David Brown", "Cloud Computing"},
}

var demoCourses = []demoCourse{
	{101, "Intro to Python", "Programming", 49.99, 1},
	{102, "Advanced SQL", "Data Science", 59.99, 1},
	{103, "Web Dev Bootcamp", "Web Development", 99.99, 2},
	{104, "React for Beginners", "Web Development", 69.99, 2},
	{105, "Machine Learning A-Z", "Machine Learning", 129.99, 3},
	{106, "Deep Learning Specialization", "Machine Learning", 149.99, 3},
	{107, "AWS Solutions Architect", "Cloud Computing", 199.99, 4},
	{108, "Google Cloud Fundamentals", "Cloud Computing", 89.99, 4},
}

var demoCountries = []string{"USA", "UK", "Canada", "Germany", "India", "Australia", "France"}

// DemoLearners is the number of learners SeedDemoDatabase creates.
const DemoLearners = 50

// SeedDemoDatabase (re)creates the course catalogue demo database at path:
// four instructors, eight courses and DemoLearners learners enrolled in one
// to three courses each, with one to five sessions per enrollment. The same
// seed always produces the same data.
func SeedDemoDatabase(ctx context.Context, path string, seed uint64) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	if err := execAll(ctx, db, SplitStatements(demoSchema)); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, in := range demoInstructors {
		if _, err := tx.ExecContext(ctx, "INSERT INTO instructors VALUES (?, ?, ?)", in.id, in.name, in.expertise); err != nil {
			return fmt.Errorf("insert instructor: %w", err)
		}
	}
	for _, c := range demoCourses {
		if _, err := tx.ExecContext(ctx, "INSERT INTO courses VALUES (?, ?, ?, ?, ?)", c.id, c.title, c.category, c.price, c.instructor); err != nil {
			return fmt.Errorf("insert course: %w", err)
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	day := func(t time.Time) string { return t.Format("2006-01-02") }

	enrollmentID, sessionID := 0, 0
	for i := 1; i <= DemoLearners; i++ {
		signup := base.AddDate(0, 0, rng.IntN(366))
		if _, err := tx.ExecContext(ctx, "INSERT INTO learners VALUES (?, ?, ?, ?, ?)",
			i, fmt.Sprintf("Learner_%d", i), fmt.Sprintf("learner_%d@example.com", i),
			demoCountries[rng.IntN(len(demoCountries))], day(signup)); err != nil {
			return fmt.Errorf("insert learner: %w", err)
		}

		perm := rng.Perm(len(demoCourses))
		for _, ci := range perm[:1+rng.IntN(3)] {
			course := demoCourses[ci]
			enrolled := signup.AddDate(0, 0, rng.IntN(31))
			enrollmentID++
			if _, err := tx.ExecContext(ctx, "INSERT INTO enrollments VALUES (?, ?, ?, ?)",
				enrollmentID, i, course.id, day(enrolled)); err != nil {
				return fmt.Errorf("insert enrollment: %w", err)
			}
			for s := 0; s < 1+rng.IntN(5); s++ {
				sessionID++
				if _, err := tx.ExecContext(ctx, "INSERT INTO sessions VALUES (?, ?, ?, ?, ?)",
					sessionID, i, course.id, day(enrolled.AddDate(0, 0, 1+rng.IntN(10))), 15+rng.IntN(106)); err != nil {
					return fmt.Errorf("insert session: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}
