package diff

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFuzzWindow is how many lines away from its declared position a hunk
// may be found when the exact position does not match.
const DefaultFuzzWindow = 3

// ApplyStatus is the successful outcome of applying a file diff.
type ApplyStatus string

const (
	StatusApplied        ApplyStatus = "applied"
	StatusAlreadyApplied ApplyStatus = "alreadyApplied"
)

// ApplyOptions tunes patch matching.
type ApplyOptions struct {
	// FuzzWindow bounds the search around a hunk's declared offset.
	// Negative means exact matching only.
	FuzzWindow int
}

func (o ApplyOptions) window() int {
	if o.FuzzWindow < 0 {
		return 0
	}
	return o.FuzzWindow
}

// ApplyResult holds the new file content produced by Apply.
type ApplyResult struct {
	Status  ApplyStatus `json:"status"`
	Content string      `json:"content"`
	Deleted bool        `json:"deleted,omitempty"`
}

// PatchErrorCode classifies why a patch could not be applied.
type PatchErrorCode string

const (
	CodeContextMismatch PatchErrorCode = "CONTEXT_MISMATCH"
	CodeFileNotFound    PatchErrorCode = "FILE_NOT_FOUND"
	CodeHunkOutOfRange  PatchErrorCode = "HUNK_OUT_OF_RANGE"
)

// PatchError reports the hunk that failed to apply. Hunk is 1-based; 0 means
// the failure concerns the file as a whole.
type PatchError struct {
	Code    PatchErrorCode `json:"code"`
	Path    string         `json:"path,omitempty"`
	Hunk    int            `json:"hunk"`
	Message string         `json:"message"`
}

func (e *PatchError) Error() string {
	if e.Hunk > 0 {
		return fmt.Sprintf("patch %s: hunk %d: %s (%s)", e.Path, e.Hunk, e.Message, e.Code)
	}
	return fmt.Sprintf("patch %s: %s (%s)", e.Path, e.Message, e.Code)
}

// Apply produces the new content of a file from its current content.
// exists reports whether the file is present at all.
//
// Applying a diff to content that already equals its post-image reports
// StatusAlreadyApplied instead of a conflict, so applying twice is safe.
func Apply(content string, exists bool, f *FileDiff, opts ApplyOptions) (*ApplyResult, error) {
	if f.Binary {
		return nil, &PatchError{Code: CodeContextMismatch, Path: f.Path, Message: "binary diff has no text hunks"}
	}

	switch f.Operation {
	case OperationAdd:
		post := joinLines(postImage(f.Hunks))
		if exists && content == post {
			return &ApplyResult{Status: StatusAlreadyApplied, Content: content}, nil
		}
		if !exists || content == "" {
			return &ApplyResult{Status: StatusApplied, Content: post}, nil
		}
		return nil, &PatchError{Code: CodeContextMismatch, Path: f.Path, Hunk: 1, Message: "file already exists with different content"}

	case OperationDelete:
		if !exists {
			return &ApplyResult{Status: StatusAlreadyApplied, Deleted: true}, nil
		}
		if len(f.Hunks) > 0 {
			if _, err := applyHunks(splitLines(content), f, opts.window()); err != nil {
				return nil, err
			}
		}
		return &ApplyResult{Status: StatusApplied, Deleted: true}, nil
	}

	if !exists {
		return nil, &PatchError{Code: CodeFileNotFound, Path: f.Path, Message: "target file does not exist"}
	}
	if len(f.Hunks) == 0 {
		// Nothing in the content to change.
		return &ApplyResult{Status: StatusAlreadyApplied, Content: content}, nil
	}

	lines := splitLines(content)
	if postImageMatches(lines, f.Hunks, 0) {
		return &ApplyResult{Status: StatusAlreadyApplied, Content: content}, nil
	}
	out, err := applyHunks(lines, f, opts.window())
	if err == nil {
		return &ApplyResult{Status: StatusApplied, Content: joinLines(out)}, nil
	}
	if postImageMatches(lines, f.Hunks, opts.window()) {
		return &ApplyResult{Status: StatusAlreadyApplied, Content: content}, nil
	}
	return nil, err
}

// ApplyFile applies f to the working tree rooted at root.
func ApplyFile(root string, f *FileDiff, opts ApplyOptions) (*ApplyResult, error) {
	target, err := ResolveInRoot(root, f.Path)
	if err != nil {
		return nil, err
	}
	source := target
	if f.Operation == OperationRename && f.PreviousPath != "" {
		if source, err = ResolveInRoot(root, f.PreviousPath); err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(source); errors.Is(statErr, os.ErrNotExist) {
			// Already moved; apply against the new location.
			source = target
		}
	}

	content, exists, err := readIfExists(source)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}

	res, err := Apply(content, exists, f, opts)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusAlreadyApplied {
		if source == target {
			return res, nil
		}
		// The content is current but the file still has to move.
		res.Status = StatusApplied
	}

	if res.Deleted {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing %s: %w", target, err)
		}
		return res, nil
	}
	if err := writeFileAtomic(target, []byte(res.Content)); err != nil {
		return nil, err
	}
	if source != target {
		if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing %s: %w", source, err)
		}
	}
	return res, nil
}

// applyHunks splices each hunk's post-image over its pre-image, tracking
// the drift between declared and found positions.
func applyHunks(lines []string, f *FileDiff, window int) ([]string, error) {
	out := make([]string, 0, len(lines))
	cursor, drift := 0, 0

	for i, h := range f.Hunks {
		pre, post := preImage([]Hunk{h}), postImage([]Hunk{h})
		pos := declaredPos(h.OldStart, h.OldCount) + drift

		at, ok := findNear(lines, pos, pre, window, cursor)
		if !ok {
			code := CodeContextMismatch
			msg := fmt.Sprintf("context does not match near line %d", h.OldStart)
			if pos+len(pre) > len(lines) {
				code = CodeHunkOutOfRange
				msg = fmt.Sprintf("hunk at line %d extends past end of file (%d lines)", h.OldStart, len(lines))
			}
			return nil, &PatchError{Code: code, Path: f.Path, Hunk: i + 1, Message: msg}
		}

		drift += at - pos
		out = append(out, lines[cursor:at]...)
		out = append(out, post...)
		cursor = at + len(pre)
	}
	return append(out, lines[cursor:]...), nil
}

// postImageMatches reports whether every hunk's result is already present.
func postImageMatches(lines []string, hunks []Hunk, window int) bool {
	cursor, drift := 0, 0
	for _, h := range hunks {
		pre, post := preImage([]Hunk{h}), postImage([]Hunk{h})
		pos := declaredPos(h.NewStart, h.NewCount) + drift

		// An empty post-image matches anywhere; only trust it once the
		// removed lines are gone.
		if len(post) == 0 {
			if len(pre) > 0 {
				if _, stillThere := findNear(lines, declaredPos(h.OldStart, h.OldCount), pre, window, cursor); stillThere {
					return false
				}
			}
			continue
		}

		at, ok := findNear(lines, pos, post, window, cursor)
		if !ok {
			return false
		}
		drift += at - pos
		cursor = at + len(post)
	}
	return true
}

// declaredPos converts a 1-based hunk start into a 0-based slice index.
// A zero-length range names the line after which text is inserted.
func declaredPos(start, count int) int {
	if count == 0 {
		return start
	}
	return start - 1
}

// findNear looks for want at pos, then at pos±1 ... pos±window, never
// before floor. The nearest match wins.
func findNear(lines []string, pos int, want []string, window, floor int) (int, bool) {
	if matchAt(lines, pos, want, floor) {
		return pos, true
	}
	for d := 1; d <= window; d++ {
		if matchAt(lines, pos-d, want, floor) {
			return pos - d, true
		}
		if matchAt(lines, pos+d, want, floor) {
			return pos + d, true
		}
	}
	return 0, false
}

func matchAt(lines []string, pos int, want []string, floor int) bool {
	if pos < floor || pos+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if lines[pos+i] != w {
			return false
		}
	}
	return true
}

func preImage(hunks []Hunk) []string {
	return image(hunks, LineDelete)
}

func postImage(hunks []Hunk) []string {
	return image(hunks, LineAdd)
}

func image(hunks []Hunk, side LineOp) []string {
	var out []string
	for _, h := range hunks {
		for _, l := range h.Lines {
			if l.Op != LineContext && l.Op != side {
				continue
			}
			if l.NoNewline {
				out = append(out, l.Text)
			} else {
				out = append(out, l.Text+"\n")
			}
		}
	}
	return out
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func joinLines(lines []string) string {
	return strings.Join(lines, "")
}

// ResolveInRoot joins a repository-relative path onto root, refusing paths
// that escape it.
func ResolveInRoot(root, path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", &PatchError{Code: CodeFileNotFound, Path: path, Message: "invalid path"}
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PatchError{Code: CodeFileNotFound, Path: path, Message: "path escapes project root"}
	}
	return full, nil
}

func readIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lensrev-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
