package sanitize

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// noiseSelectors are removed from the DOM before text extraction.
// They carry navigation chrome and media, not article content.
var noiseSelectors = []string{
	"script", "style", "noscript", "iframe",
	"nav", "footer", "header", "aside", "form",
	"a", "img", "figure", "svg", "button",
}

var placeholderURL, _ = url.Parse("https://localhost/")

// extractHTML pulls the main article content out of an HTML payload.
// Readability finds the content region; if it comes up empty the whole
// body is stripped of noise elements with goquery instead.
func extractHTML(html []byte) (*Document, error) {
	article, err := readability.FromReader(bytes.NewReader(html), placeholderURL)
	if err == nil {
		text := cleanText(article.TextContent)
		if text != "" {
			return &Document{
				Title: strings.TrimSpace(article.Title),
				Text:  text,
			}, nil
		}
	}
	return stripHTML(html)
}

// stripHTML is the fallback extraction path: remove noise elements
// wholesale and keep whatever text remains.
func stripHTML(html []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return &Document{Text: ""}, nil
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return &Document{
		Title: title,
		Text:  cleanText(doc.Find("body").Text()),
	}, nil
}

var (
	whitespaceRun = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// maxPunctRun bounds runs of one punctuation or symbol rune; longer
// runs (decorative rules, "!!!!!" spam) collapse to this length.
const maxPunctRun = 3

// cleanText normalizes extracted text: collapse horizontal whitespace
// and punctuation runs, trim line edges, and bound consecutive blank
// lines.
func cleanText(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = collapsePunctRuns(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// collapsePunctRuns truncates runs of the same punctuation or symbol
// rune to maxPunctRun. RE2 has no backreferences, so this is a scan.
func collapsePunctRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && (unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			run++
			if run > maxPunctRun {
				continue
			}
		} else {
			prev = r
			run = 1
		}
		b.WriteRune(r)
	}
	return b.String()
}
