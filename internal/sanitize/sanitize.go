// Package sanitize turns raw fetched payloads into clean plain text
// suitable for chunking and indexing. It handles charset detection,
// HTML boilerplate removal, PDF text extraction, and a validity gate
// that rejects garbled or degenerate output.
package sanitize

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/websift/websift/internal/errors"
)

// Document is the sanitized output of a single payload.
type Document struct {
	// Title is the extracted document title, if any.
	Title string

	// Text is the cleaned plain-text content.
	Text string
}

// Sanitizer converts raw payloads into validated plain text.
type Sanitizer struct {
	pdf *pdfExtractor
}

// New creates a Sanitizer.
func New() *Sanitizer {
	return &Sanitizer{pdf: newPDFExtractor()}
}

// Sanitize processes a raw payload according to its media type.
// HTML payloads go through charset detection and readability
// extraction; PDF payloads through text extraction; anything else is
// treated as plain text. The result passes the validity gate or an
// error is returned.
func (s *Sanitizer) Sanitize(raw []byte, mediaType string) (*Document, error) {
	if len(raw) == 0 {
		return nil, errors.ValidationError("empty payload", nil)
	}

	var doc *Document
	var err error

	switch {
	case strings.Contains(mediaType, "pdf"):
		doc, err = s.pdf.extract(raw)
	case strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xml") || looksLikeHTML(raw):
		doc, err = extractHTML(decodeBytes(raw))
	default:
		doc = &Document{Text: cleanText(string(decodeBytes(raw)))}
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(doc.Text); err != nil {
		return nil, err
	}
	return doc, nil
}

// looksLikeHTML sniffs the payload prefix for markup when the server
// sent an unhelpful media type.
func looksLikeHTML(raw []byte) bool {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

const (
	// minValidRunes is the minimum content length after cleaning.
	minValidRunes = 20

	// maxQuestionableRatio is the tolerated share of garbled runes.
	maxQuestionableRatio = 0.15

	// maxIdenticalRun rejects runs of identical runes at or beyond
	// this length, except common formatting characters.
	maxIdenticalRun = 6
)

// runExempt are runes allowed to repeat indefinitely (separators,
// list bullets, horizontal rules).
const runExempt = ".-_ *"

// Validate applies the validity gate: minimum length, bounded
// questionable-character ratio, and no long runs of one character.
func Validate(text string) error {
	runes := []rune(text)
	if len(runes) < minValidRunes {
		return errors.ValidationError("content too short after sanitization", nil).
			WithDetail("runes", strconv.Itoa(len(runes)))
	}

	questionable := 0
	for _, r := range runes {
		if isQuestionable(r) {
			questionable++
		}
	}
	if ratio := float64(questionable) / float64(len(runes)); ratio > maxQuestionableRatio {
		return errors.ValidationError("content appears garbled", nil)
	}

	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] && !strings.ContainsRune(runExempt, runes[i]) {
			run++
			if run >= maxIdenticalRun {
				return errors.ValidationError("content contains degenerate repetition", nil)
			}
		} else {
			run = 1
		}
	}
	return nil
}

// isQuestionable reports whether a rune suggests a decoding failure:
// the replacement character, tofu boxes, or astral-plane codepoints
// that rarely appear in legitimate prose.
func isQuestionable(r rune) bool {
	switch r {
	case utf8.RuneError, '□', '■':
		return true
	}
	return r > 0xFFFF
}
