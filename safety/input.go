// Package safety screens user requests before a pipeline runs.
//
// Requests end up inside model prompts and, for query-to-insight, in SQL.
// The validator rejects prompt injection attempts and requests breaking the
// configured content rules.
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ValidationError is returned when a request is rejected.
type ValidationError struct {
	// Key is the context key holding the rejected text.
	Key     string
	Message string
	// Patterns lists the injection patterns that matched, if any.
	Patterns []string
	Score    int
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Key == "" {
		return "rejected input: " + e.Message
	}
	return fmt.Sprintf("rejected input %q: %s", e.Key, e.Message)
}

// InjectionDetector scores text for prompt injection attempts.
//
// Each matching pattern adds 10 points, each suspicious keyword its weight,
// and a few heuristics (many special characters, very long text, repeated
// imperatives) add small amounts. Text scoring at least the threshold is an
// injection.
//
// Example:
//
//	detector := NewInjectionDetector(10)
//	isInjection, score, patterns := detector.Detect("Ignore previous instructions")
type InjectionDetector struct {
	threshold int
	patterns  []*regexp.Regexp
	keywords  map[string]int
}

var (
	dangerousPatterns = []string{
		`ignore\s+(previous|all|above|prior)\s+instructions?`,
		`disregard\s+(previous|all|above|prior)`,
		`forget\s+(everything|all|previous)`,
		`new\s+instructions?:`,
		`system\s*(prompt|message)?:`,
		`you\s+are\s+now`,
		`act\s+as\s+(if|though)`,
		`pretend\s+(you|to)\s+(are|be)`,
		`roleplay\s+as`,
		`^sudo\s+`,
		`(admin|developer|god)\s+mode`,
		`jailbreak`,
		`</?\s*system\s*>`,
		`<\|.*?\|>`, // special tokens
		`\[INST\]`,
		`\{system\}`,
		// statements the SQL writer must never be talked into
		`\b(drop|truncate|alter)\s+table\b`,
		`\bdelete\s+from\b`,
		`\battach\s+database\b`,
	}

	suspiciousKeywords = map[string]int{
		"ignore":       3,
		"disregard":    3,
		"override":     2,
		"bypass":       3,
		"jailbreak":    5,
		"prompt":       2,
		"injection":    4,
		"system":       2,
		"admin":        2,
		"sudo":         3,
		"privilege":    2,
		"instructions": 2,
	}

	wordRe     = regexp.MustCompile(`\w+`)
	specialRe  = regexp.MustCompile(`[<>{}[\]|]`)
	repeatedRe = regexp.MustCompile(`(please|must|you (should|will|must))`)
)

// NewInjectionDetector creates a detector. A threshold below 1 uses 10.
func NewInjectionDetector(threshold int) *InjectionDetector {
	if threshold < 1 {
		threshold = 10
	}
	compiled := make([]*regexp.Regexp, len(dangerousPatterns))
	for i, p := range dangerousPatterns {
		compiled[i] = regexp.MustCompile("(?im)" + p)
	}
	return &InjectionDetector{threshold: threshold, patterns: compiled, keywords: suspiciousKeywords}
}

// Detect reports whether text is an injection, its score and the patterns
// that matched.
func (d *InjectionDetector) Detect(text string) (bool, int, []string) {
	lower := strings.ToLower(text)
	score := 0
	var matched []string

	for i, re := range d.patterns {
		if re.MatchString(lower) {
			score += 10
			matched = append(matched, dangerousPatterns[i])
		}
	}
	for _, word := range wordRe.FindAllString(lower, -1) {
		score += d.keywords[word]
	}

	if len(specialRe.FindAllString(text, -1)) > 5 {
		score += 2
	}
	if len(text) > 5000 {
		score++
	}
	if len(repeatedRe.FindAllString(lower, -1)) > 5 {
		score += 2
	}
	return score >= d.threshold, score, matched
}

type piiPattern struct {
	re   *regexp.Regexp
	name string
}

var piiPatterns = []piiPattern{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "a Social Security Number"},
	{regexp.MustCompile(`\b\d{16}\b`), "a credit card number"},
	{regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`), "an email address"},
}

// Config configures a Validator.
type Config struct {
	// InjectionThreshold blocks text scoring at least this much. Zero
	// disables injection detection.
	InjectionThreshold int
	// MaxChars and MinChars bound each text value. Zero MaxChars means
	// no upper bound.
	MaxChars int
	MinChars int
	// BannedWords are matched case-insensitively.
	BannedWords []string
	// BlockPII rejects text that looks like it carries personal data.
	BlockPII bool
}

// Validator checks the initial context of a run.
type Validator struct {
	config   Config
	detector *InjectionDetector
	banned   []string
}

// NewValidator creates a validator.
func NewValidator(config Config) *Validator {
	v := &Validator{config: config}
	if config.InjectionThreshold > 0 {
		v.detector = NewInjectionDetector(config.InjectionThreshold)
	}
	for _, w := range config.BannedWords {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			v.banned = append(v.banned, w)
		}
	}
	return v
}

// Validate checks one text value.
func (v *Validator) Validate(text string) error {
	if v.config.MaxChars > 0 && len(text) > v.config.MaxChars {
		return &ValidationError{Message: fmt.Sprintf("exceeds maximum size (%d chars)", v.config.MaxChars)}
	}
	if len(strings.TrimSpace(text)) < v.config.MinChars {
		return &ValidationError{Message: fmt.Sprintf("below minimum size (%d chars)", v.config.MinChars)}
	}
	lower := strings.ToLower(text)
	for _, w := range v.banned {
		if strings.Contains(lower, w) {
			return &ValidationError{Message: "contains banned word: " + w}
		}
	}
	if v.config.BlockPII {
		for _, p := range piiPatterns {
			if p.re.MatchString(text) {
				return &ValidationError{Message: "may contain " + p.name}
			}
		}
	}
	if v.detector != nil {
		if isInjection, score, patterns := v.detector.Detect(text); isInjection {
			return &ValidationError{
				Message:  fmt.Sprintf("looks like prompt injection (score %d)", score),
				Patterns: patterns,
				Score:    score,
			}
		}
	}
	return nil
}

// Check validates every string value of an initial context, in key order.
// Other values are not inspected.
func (v *Validator) Check(initial map[string]any) error {
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text, ok := initial[k].(string)
		if !ok {
			continue
		}
		if err := v.Validate(text); err != nil {
			verr := err.(*ValidationError)
			verr.Key = k
			return verr
		}
	}
	return nil
}
