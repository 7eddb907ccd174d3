// Package diff handles parsing git diffs into structured representations
// and applying them back onto files.
package diff

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Operation describes what a diff does to a file.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationModify Operation = "modify"
	OperationDelete Operation = "delete"
	OperationRename Operation = "rename"
)

// LineOp is the role of a line inside a hunk.
type LineOp string

const (
	LineContext LineOp = "context"
	LineAdd     LineOp = "add"
	LineDelete  LineOp = "delete"
)

// Line is one hunk body line without its prefix or trailing newline.
type Line struct {
	Op        LineOp `json:"op"`
	Text      string `json:"text"`
	NoNewline bool   `json:"noNewline,omitempty"`
}

// Hunk is a contiguous change region. Positions are 1-based, git-diff semantics.
type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldCount int    `json:"oldCount"`
	NewStart int    `json:"newStart"`
	NewCount int    `json:"newCount"`
	Header   string `json:"header,omitempty"`
	Lines    []Line `json:"lines"`
	Body     string `json:"body"`
}

// Stats summarizes the size of a change.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	SizeBytes int `json:"sizeBytes"`
}

func (s *Stats) add(o Stats) {
	s.Additions += o.Additions
	s.Deletions += o.Deletions
	s.SizeBytes += o.SizeBytes
}

// FileDiff is a single file in a diff with its parsed hunks.
type FileDiff struct {
	Path         string    `json:"path"`
	PreviousPath string    `json:"previousPath,omitempty"`
	Operation    Operation `json:"operation"`
	Binary       bool      `json:"binary,omitempty"`
	Language     string    `json:"language,omitempty"`
	Hunks        []Hunk    `json:"hunks"`
	Raw          string    `json:"raw"`
	Stats        Stats     `json:"stats"`
}

// Name returns the display name for the file.
func (f *FileDiff) Name() string {
	if f.Operation == OperationRename && f.PreviousPath != "" {
		return fmt.Sprintf("%s → %s", f.PreviousPath, f.Path)
	}
	return f.Path
}

// ParsedDiff holds the parsed diff for all files. It is not modified after Parse returns.
type ParsedDiff struct {
	Files      []FileDiff   `json:"files"`
	TotalStats Stats        `json:"totalStats"`
	Warnings   []ParseError `json:"warnings,omitempty"`
}

// File returns the diff for path, matching either side of a rename.
func (pd *ParsedDiff) File(path string) (*FileDiff, bool) {
	for i := range pd.Files {
		if pd.Files[i].Path == path || pd.Files[i].PreviousPath == path {
			return &pd.Files[i], true
		}
	}
	return nil, false
}

// Paths returns the post-image path of every file, in diff order.
func (pd *ParsedDiff) Paths() []string {
	paths := make([]string, 0, len(pd.Files))
	for _, f := range pd.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Empty reports whether the diff touches no files.
func (pd *ParsedDiff) Empty() bool {
	return pd == nil || len(pd.Files) == 0
}

// ParseError reports a structurally malformed part of a diff.
type ParseError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("parsing diff: %s (line %d): %s", e.File, e.Line, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("parsing diff: line %d: %s", e.Line, e.Message)
	default:
		return "parsing diff: " + e.Message
	}
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// section is the raw text of one file in a multi-file diff.
type section struct {
	text      string
	startLine int // 1-based line of the section within the whole input
}

// Parse reads a unified diff string and returns a ParsedDiff.
//
// Each file section is parsed on its own so one malformed file does not hide
// the others. Malformed hunks are dropped and reported in Warnings; an error
// is returned only when non-empty input yields no file at all.
func Parse(raw string) (*ParsedDiff, error) {
	pd := &ParsedDiff{}
	if strings.TrimSpace(raw) == "" {
		return pd, nil
	}

	for _, sec := range splitSections(raw) {
		files, _, err := gitdiff.Parse(strings.NewReader(sec.text))
		if err != nil {
			fd, warnings := recoverSection(sec, err)
			pd.Warnings = append(pd.Warnings, warnings...)
			if fd != nil {
				pd.Files = append(pd.Files, *fd)
			}
			continue
		}
		for _, f := range files {
			pd.Files = append(pd.Files, convertFile(f, sec.text))
		}
	}

	if len(pd.Files) == 0 {
		if len(pd.Warnings) > 0 {
			perr := pd.Warnings[0]
			return nil, &perr
		}
		return nil, &ParseError{Message: "no file headers found"}
	}

	for _, f := range pd.Files {
		pd.TotalStats.add(f.Stats)
	}
	return pd, nil
}

// splitSections cuts a diff at "diff --git" boundaries. Diffs without git
// headers are cut at "---"/"+++" header pairs instead. Preamble text before
// the first header is dropped.
func splitSections(raw string) []section {
	lines := strings.SplitAfter(raw, "\n")
	gitStyle := strings.Contains(raw, "diff --git ")

	var sections []section
	var cur strings.Builder
	start := 0
	started := false

	flush := func() {
		if started && strings.TrimSpace(cur.String()) != "" {
			sections = append(sections, section{text: cur.String(), startLine: start})
		}
		cur.Reset()
	}

	for i, line := range lines {
		boundary := false
		if gitStyle {
			boundary = strings.HasPrefix(line, "diff --git ")
		} else if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
			boundary = true
		}
		if boundary {
			flush()
			started = true
			start = i + 1
		}
		if started {
			cur.WriteString(line)
		}
	}
	flush()
	return sections
}

// recoverSection salvages a section gitdiff refused. Hunks with malformed
// headers are removed; if the remainder still does not parse, a stats-only
// FileDiff is produced from line classification.
func recoverSection(sec section, cause error) (*FileDiff, []ParseError) {
	path := sectionPath(sec.text)
	var warnings []ParseError

	lines := strings.SplitAfter(sec.text, "\n")
	var cleaned strings.Builder
	skipping := false
	for i, line := range lines {
		if strings.HasPrefix(line, "@@") {
			if _, err := parseHunkHeader(line); err != nil {
				warnings = append(warnings, ParseError{
					File:    path,
					Line:    sec.startLine + i,
					Message: err.Error(),
				})
				skipping = true
				continue
			}
			skipping = false
		} else if skipping && startsFileHeader(lines, i) {
			skipping = false
		}
		if !skipping {
			cleaned.WriteString(line)
		}
	}

	if len(warnings) > 0 {
		if files, _, err := gitdiff.Parse(strings.NewReader(cleaned.String())); err == nil && len(files) > 0 {
			fd := convertFile(files[0], sec.text)
			fd.Stats = statsFromText(sec.text)
			return &fd, warnings
		}
	} else {
		warnings = append(warnings, ParseError{File: path, Line: sec.startLine, Message: cause.Error()})
	}

	if path == "" {
		return nil, warnings
	}
	return &FileDiff{
		Path:      path,
		Operation: OperationModify,
		Language:  Language(path),
		Hunks:     []Hunk{},
		Raw:       sec.text,
		Stats:     statsFromText(sec.text),
	}, warnings
}

// startsFileHeader reports whether lines[i] opens a new file header. A lone
// "--- x" inside a hunk body is a removed line, not a header.
func startsFileHeader(lines []string, i int) bool {
	if strings.HasPrefix(lines[i], "diff --git ") {
		return true
	}
	return strings.HasPrefix(lines[i], "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

// parseHunkHeader validates the numeric ranges of an "@@" line.
func parseHunkHeader(line string) (Hunk, error) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, fmt.Errorf("malformed hunk header %q", strings.TrimRight(line, "\n"))
	}
	num := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	return Hunk{
		OldStart: num(m[1], 0),
		OldCount: num(m[2], 1),
		NewStart: num(m[3], 0),
		NewCount: num(m[4], 1),
	}, nil
}

func sectionPath(text string) string {
	var fromGit string
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			p := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			if p != "/dev/null" {
				return strings.TrimPrefix(p, "b/")
			}
		case strings.HasPrefix(line, "--- "):
			p := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			if p != "/dev/null" && fromGit == "" {
				fromGit = strings.TrimPrefix(p, "a/")
			}
		case strings.HasPrefix(line, "diff --git "):
			fields := strings.Fields(strings.TrimPrefix(line, "diff --git "))
			if len(fields) == 2 {
				fromGit = strings.TrimPrefix(fields[1], "b/")
			}
		}
	}
	return fromGit
}

func statsFromText(text string) Stats {
	adds, dels := CountChanges(text)
	return Stats{Additions: adds, Deletions: dels, SizeBytes: len(text)}
}

func convertFile(f *gitdiff.File, raw string) FileDiff {
	fd := FileDiff{
		Path:      f.NewName,
		Operation: OperationModify,
		Binary:    f.IsBinary,
		Raw:       raw,
		Hunks:     []Hunk{},
	}
	switch {
	case f.IsNew || f.IsCopy:
		fd.Operation = OperationAdd
	case f.IsDelete:
		fd.Operation = OperationDelete
		fd.Path = f.OldName
	case f.IsRename:
		fd.Operation = OperationRename
		fd.PreviousPath = f.OldName
	}
	if fd.Path == "" {
		fd.Path = f.OldName
	}
	fd.Language = Language(fd.Path)

	for _, frag := range f.TextFragments {
		h := Hunk{
			OldStart: int(frag.OldPosition),
			OldCount: int(frag.OldLines),
			NewStart: int(frag.NewPosition),
			NewCount: int(frag.NewLines),
			Header:   frag.Comment,
		}
		for _, l := range frag.Lines {
			line := Line{
				Text:      strings.TrimSuffix(l.Line, "\n"),
				NoNewline: !strings.HasSuffix(l.Line, "\n"),
			}
			switch l.Op {
			case gitdiff.OpAdd:
				line.Op = LineAdd
				fd.Stats.Additions++
			case gitdiff.OpDelete:
				line.Op = LineDelete
				fd.Stats.Deletions++
			default:
				line.Op = LineContext
			}
			h.Lines = append(h.Lines, line)
		}
		h.Body = formatHunkBody(h.Lines)
		fd.Hunks = append(fd.Hunks, h)
	}
	sort.SliceStable(fd.Hunks, func(i, j int) bool {
		return fd.Hunks[i].OldStart < fd.Hunks[j].OldStart
	})

	fd.Stats.SizeBytes = len(raw)
	return fd
}
