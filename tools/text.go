package tools

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// StripFence returns the body of the first markdown code fence in text, or
// the trimmed text when there is none.
func StripFence(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ExtractSQL pulls a SQL statement out of model output.
func ExtractSQL(text string) (string, error) {
	q := StripFence(text)
	if q == "" {
		return "", fmt.Errorf("no SQL found")
	}
	return q, nil
}

// CheckHTMLReport verifies that doc is an HTML document with a body and a
// non-empty title, and returns the title.
func CheckHTMLReport(doc string) (string, error) {
	doc = StripFence(doc)
	if !strings.Contains(strings.ToLower(doc), "<html") {
		return "", fmt.Errorf("report is not an HTML document")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse report: %w", err)
	}

	var titleText string
	var hasBody bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if titleText == "" && n.FirstChild != nil {
					titleText = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Body:
				hasBody = n.FirstChild != nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if titleText == "" {
		return "", fmt.Errorf("report has no title")
	}
	if !hasBody {
		return "", fmt.Errorf("report body is empty")
	}
	return titleText, nil
}
