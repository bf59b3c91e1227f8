package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mkallweit/normrel/model"
)

// MarkerKind distinguishes structural markers found during extraction
type MarkerKind string

const (
	MarkerHeading   MarkerKind = "heading"
	MarkerPageBreak MarkerKind = "page_break"
)

// Marker records a structural feature at a byte offset of the extracted text.
// For headings, Title and Level are set. For page breaks, Page is the number
// of the page starting at Offset.
type Marker struct {
	Kind   MarkerKind
	Offset int
	Title  string
	Level  int
	Page   int
}

// Hints carries optional metadata about the uploaded file
type Hints struct {
	Filename    string
	ContentType string
}

// Extractor converts uploaded bytes into plain text plus structural markers
type Extractor interface {
	Extract(ctx context.Context, data []byte, hints Hints) (string, []Marker, error)
}

// PlaintextExtractor handles UTF-8 text and markdown files. Lines starting
// with '#' become heading markers, form feed characters become page breaks.
type PlaintextExtractor struct{}

// NewPlaintextExtractor returns an extractor for plain text and markdown
func NewPlaintextExtractor() *PlaintextExtractor {
	return &PlaintextExtractor{}
}

var supportedExtensions = map[string]bool{
	"":          true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".text":     true,
}

// Extract validates the input and walks it line by line, collecting heading
// and page break markers with offsets into the returned text. The returned
// text has form feeds removed and heading lines stripped of their '#' prefix.
func (e *PlaintextExtractor) Extract(ctx context.Context, data []byte, hints Hints) (string, []Marker, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	ext := strings.ToLower(filepath.Ext(hints.Filename))
	if !supportedExtensions[ext] {
		return "", nil, &model.ExtractionError{
			Reason: model.ExtractionUnsupportedFormat,
			Err:    fmt.Errorf("unsupported file extension %q", ext),
		}
	}

	if len(data) == 0 {
		return "", nil, &model.ExtractionError{
			Reason: model.ExtractionCorruptFile,
			Err:    fmt.Errorf("empty file"),
		}
	}
	if !utf8.Valid(data) {
		return "", nil, &model.ExtractionError{
			Reason: model.ExtractionCorruptFile,
			Err:    fmt.Errorf("not valid utf-8"),
		}
	}

	var out strings.Builder
	var markers []Marker
	page := 1

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, segment := range strings.Split(text, "\f") {
		if out.Len() > 0 {
			page++
			markers = append(markers, Marker{
				Kind:   MarkerPageBreak,
				Offset: out.Len(),
				Page:   page,
			})
		}

		for _, line := range strings.Split(segment, "\n") {
			if level, title, ok := parseHeading(line); ok {
				markers = append(markers, Marker{
					Kind:   MarkerHeading,
					Offset: out.Len(),
					Title:  title,
					Level:  level,
				})
				out.WriteString(title)
				out.WriteString("\n")
				continue
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
	}

	return out.String(), markers, nil
}

// parseHeading recognizes markdown ATX headings with levels 1 to 6
func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return 0, "", false
	}
	title := strings.TrimSpace(rest)
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
