package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/websift/websift/internal/errors"
)

// pdfExtractor extracts text from PDF payloads with pdfcpu. pdfcpu
// works on files, so payloads round-trip through a private temp dir.
type pdfExtractor struct {
	tempDir string
	seq     atomic.Int64
}

func newPDFExtractor() *pdfExtractor {
	dir := filepath.Join(os.TempDir(), "websift-pdf")
	_ = os.MkdirAll(dir, 0o755)
	return &pdfExtractor{tempDir: dir}
}

func (e *pdfExtractor) extract(raw []byte) (*Document, error) {
	id := e.seq.Add(1)

	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("doc_%d_%d.pdf", os.Getpid(), id))
	if err := os.WriteFile(tempFile, raw, 0o644); err != nil {
		return nil, errors.InternalError("failed to stage pdf for extraction", err)
	}
	defer os.Remove(tempFile)

	conf := model.NewDefaultConfiguration()
	if _, err := api.ReadContextFile(tempFile); err != nil {
		return nil, errors.ValidationError("unreadable pdf payload", err)
	}

	outDir := filepath.Join(e.tempDir, fmt.Sprintf("pages_%d_%d", os.Getpid(), id))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.InternalError("failed to create pdf work dir", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return nil, errors.ValidationError("pdf content extraction failed", err)
	}

	pageTexts := make(map[int]string)
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(entry.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	nums := make([]int, 0, len(pageTexts))
	for n := range pageTexts {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var b strings.Builder
	for _, n := range nums {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageTexts[n])
	}

	return &Document{Text: cleanText(b.String())}, nil
}
