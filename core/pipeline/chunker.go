package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mkallweit/normrel/extract"
)

func errEmbeddingCountMismatch(got, want int) error {
	return fmt.Errorf("embedding count mismatch: got %d embeddings for %d chunks", got, want)
}

var sentenceEnds = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// StructureChunker creates a chunker that cuts near a target length while
// preferring natural boundaries. Within a tolerance window around the target
// it cuts at the last paragraph break, then at the last sentence end, and
// hard-cuts only when neither exists. Consecutive chunks overlap by the
// given number of bytes. The most recent heading and page marker at a
// chunk's start position provide its section context.
func StructureChunker(targetSize, overlap, tolerance int) ChunkFunc {
	return func(text string, markers []extract.Marker) ([]ChunkDraft, error) {
		if targetSize <= 0 {
			return nil, fmt.Errorf("target size must be positive")
		}
		if overlap < 0 || overlap >= targetSize {
			return nil, fmt.Errorf("overlap must be in [0, target size)")
		}
		if tolerance < 0 {
			return nil, fmt.Errorf("tolerance must not be negative")
		}

		if strings.TrimSpace(text) == "" {
			return []ChunkDraft{}, nil
		}

		var drafts []ChunkDraft
		index := 0
		pos := 0

		for pos < len(text) {
			end := pos + targetSize
			if end >= len(text) {
				end = len(text)
			} else {
				end = findBoundary(text, pos, end, tolerance)
			}

			content := strings.TrimSpace(text[pos:end])
			if content != "" {
				title, level, page := contextAt(markers, pos)
				drafts = append(drafts, ChunkDraft{
					Index:        index,
					Content:      content,
					CharCount:    utf8.RuneCountInString(content),
					SectionTitle: title,
					HeadingLevel: level,
					Page:         page,
				})
				index++
			}

			if end >= len(text) {
				break
			}

			next := end - overlap
			// The overlap start must sit on a rune boundary
			for next < len(text) && !utf8.RuneStart(text[next]) {
				next++
			}
			// Overlap must never stall the cursor
			if next <= pos {
				next = end
			}
			pos = next
		}

		return drafts, nil
	}
}

// findBoundary picks the cut position for a chunk starting at pos with the
// ideal end at target. It searches the tolerance window around the target
// for a paragraph break first, a sentence end second, and falls back to a
// hard cut on a rune boundary.
func findBoundary(text string, pos, target, tolerance int) int {
	lo := target - tolerance
	if lo <= pos {
		lo = pos + 1
	}
	hi := target + tolerance
	if hi > len(text) {
		hi = len(text)
	}

	window := text[lo:hi]

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return lo + idx + 2
	}

	best := -1
	for _, marker := range sentenceEnds {
		if idx := strings.LastIndex(window, marker); idx >= 0 && idx+len(marker) > best {
			best = idx + len(marker)
		}
	}
	if best >= 0 {
		return lo + best
	}

	end := target
	for end > pos && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// contextAt returns the section title, heading level and page of the most
// recent markers at or before the given offset
func contextAt(markers []extract.Marker, offset int) (string, int, int) {
	title := ""
	level := 0
	page := 1
	for _, marker := range markers {
		if marker.Offset > offset {
			break
		}
		switch marker.Kind {
		case extract.MarkerHeading:
			title = marker.Title
			level = marker.Level
		case extract.MarkerPageBreak:
			page = marker.Page
		}
	}
	return title, level, page
}
