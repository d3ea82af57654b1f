package sanitize

import (
	"bytes"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeBytes returns the payload as UTF-8. Valid UTF-8 passes
// through untouched; otherwise the charset is sniffed and the bytes
// re-decoded. On detection failure the raw bytes are returned and the
// validity gate catches any resulting garbage downstream.
func decodeBytes(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(raw)
	if err != nil || result == nil {
		return raw
	}

	decoded, ok := decodeAs(raw, result.Charset)
	if !ok {
		return raw
	}
	return decoded
}

// decodeAs decodes raw bytes with the named charset via the WHATWG
// encoding index. Returns false when the charset is unknown or the
// decode produces more garbage than it fixes.
func decodeAs(raw []byte, charset string) ([]byte, bool) {
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		return nil, false
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, false
	}

	// A decode that mostly yields replacement characters is worse
	// than keeping the original bytes.
	if replacementRatio(decoded) > maxQuestionableRatio {
		return nil, false
	}
	return decoded, true
}

func replacementRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	count := bytes.Count(data, []byte(string(utf8.RuneError)))
	total := utf8.RuneCount(data)
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}
