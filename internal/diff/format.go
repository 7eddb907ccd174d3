package diff

import (
	"fmt"
	"strings"
)

const noNewlineMarker = `\ No newline at end of file`

// Format reconstructs a unified diff for a single file.
func Format(f *FileDiff) string {
	var b strings.Builder

	oldName, newName := f.Path, f.Path
	if f.PreviousPath != "" {
		oldName = f.PreviousPath
	}

	b.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", oldName, newName))
	switch f.Operation {
	case OperationAdd:
		b.WriteString("new file mode 100644\n")
		oldName = ""
	case OperationDelete:
		b.WriteString("deleted file mode 100644\n")
		newName = ""
	case OperationRename:
		b.WriteString(fmt.Sprintf("rename from %s\nrename to %s\n", oldName, newName))
	}

	if f.Binary {
		b.WriteString(fmt.Sprintf("Binary files %s and %s differ\n", sidePath("a/", oldName), sidePath("b/", newName)))
		return b.String()
	}
	if len(f.Hunks) == 0 {
		return b.String()
	}

	b.WriteString(fmt.Sprintf("--- %s\n", sidePath("a/", oldName)))
	b.WriteString(fmt.Sprintf("+++ %s\n", sidePath("b/", newName)))
	for _, h := range f.Hunks {
		b.WriteString(FormatHunkHeader(h))
		b.WriteString("\n")
		b.WriteString(formatHunkBody(h.Lines))
	}
	return b.String()
}

// FormatAll concatenates the unified diffs of several files.
func FormatAll(files []FileDiff) string {
	var b strings.Builder
	for i := range files {
		b.WriteString(Format(&files[i]))
	}
	return b.String()
}

// FormatHunkHeader renders the "@@ -a,b +c,d @@" line of a hunk.
func FormatHunkHeader(h Hunk) string {
	header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
	if h.Header != "" {
		header += " " + h.Header
	}
	return header
}

func formatHunkBody(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		switch l.Op {
		case LineAdd:
			b.WriteString("+")
		case LineDelete:
			b.WriteString("-")
		default:
			b.WriteString(" ")
		}
		b.WriteString(l.Text)
		b.WriteString("\n")
		if l.NoNewline {
			b.WriteString(noNewlineMarker + "\n")
		}
	}
	return b.String()
}

func sidePath(prefix, name string) string {
	if name == "" {
		return "/dev/null"
	}
	return prefix + name
}
