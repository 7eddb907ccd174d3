package diff

import "strings"

// LineKind categorizes a raw line of unified-diff text.
type LineKind int

const (
	KindContext LineKind = iota
	KindAddition
	KindDeletion
	KindHunkHeader
	KindFileHeader
)

func (k LineKind) String() string {
	switch k {
	case KindContext:
		return "context"
	case KindAddition:
		return "addition"
	case KindDeletion:
		return "deletion"
	case KindHunkHeader:
		return "hunk-header"
	case KindFileHeader:
		return "file-header"
	default:
		return "unknown"
	}
}

// Classify returns the kind of a raw diff line based only on its prefix.
// File headers are checked before additions/deletions so "---" and "+++"
// never count as changes.
func Classify(line string) LineKind {
	switch {
	case strings.HasPrefix(line, "diff --git"),
		strings.HasPrefix(line, "---"),
		strings.HasPrefix(line, "+++"):
		return KindFileHeader
	case strings.HasPrefix(line, "@@"):
		return KindHunkHeader
	case strings.HasPrefix(line, "+"):
		return KindAddition
	case strings.HasPrefix(line, "-"):
		return KindDeletion
	default:
		return KindContext
	}
}

// ClassifiedLine pairs a raw line with its kind.
type ClassifiedLine struct {
	Kind LineKind
	Text string
}

// ClassifyLines splits text into lines and classifies each one.
func ClassifyLines(text string) []ClassifiedLine {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	raw := strings.Split(text, "\n")
	out := make([]ClassifiedLine, len(raw))
	for i, l := range raw {
		out[i] = ClassifiedLine{Kind: Classify(l), Text: l}
	}
	return out
}

// CountChanges counts added and deleted lines in raw diff text.
func CountChanges(text string) (additions, deletions int) {
	for _, l := range ClassifyLines(text) {
		switch l.Kind {
		case KindAddition:
			additions++
		case KindDeletion:
			deletions++
		}
	}
	return additions, deletions
}
