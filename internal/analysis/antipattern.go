package analysis

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Anti-pattern regexes.
var (
	// Broad exception handling
	broadExceptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)except\s*:`),                           // Python: bare except
		regexp.MustCompile(`(?i)except\s+Exception\s*:`),               // Python: catch-all
		regexp.MustCompile(`(?i)catch\s*\(\s*(Exception|Error|e)\s*\)`), // Java/C#
		regexp.MustCompile(`(?i)catch\s*\(\s*err(?:or)?\s*\)\s*\{`),    // Go-like (but Go doesn't have try/catch)
		regexp.MustCompile(`(?i)catch\s*\{`),                           // Scala/Kotlin bare catch
		regexp.MustCompile(`(?i)rescue\s*$`),                           // Ruby: bare rescue
		regexp.MustCompile(`(?i)rescue\s+StandardError`),               // Ruby: catch-all
		regexp.MustCompile(`\.catch\(\s*(?:_|err|\(\s*\))\s*=>`),       // JS: .catch((_) => or .catch(() =>
	}

	// Commented-out code patterns (lines that look like disabled code, not natural comments)
	commentedCodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?://|#)\s*(?:func |def |class |if |for |while |return |import |from |const |let |var |pub fn )`),
		regexp.MustCompile(`^\s*(?://|#)\s*\w+\s*[({=]`),
		regexp.MustCompile(`^\s*{?/\*.*\b(?:func|def|class|return)\b.*\*/}?`),
	}

	// Leftover work markers
	todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK|XXX|TEMP|TEMPORARY)\b`)
)

// AntiPatternPass detects hygiene problems in added code: broad exception
// handling, commented-out code, leftover work markers and duplicated blocks.
func AntiPatternPass(_ context.Context, pd *diff.ParsedDiff, _ string) []Finding {
	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]
		findings = append(findings, checkBroadExceptions(f)...)
		findings = append(findings, checkCommentedCode(f)...)
		findings = append(findings, checkTodos(f)...)
	}

	// Near-duplicate blocks can span files.
	findings = append(findings, checkDuplication(pd)...)

	return findings
}

func hygiene(f *diff.FileDiff, line int, title, msg string, sev model.Severity) Finding {
	return Finding{
		Pass:     "anti_patterns",
		Category: "hygiene",
		File:     f.Path,
		Line:     line,
		Title:    title,
		Message:  msg,
		Severity: sev,
	}
}

func checkBroadExceptions(f *diff.FileDiff) []Finding {
	var findings []Finding
	addedLines(f, func(lineNum int, text string) {
		for _, pat := range broadExceptPatterns {
			if pat.MatchString(text) {
				findings = append(findings, hygiene(f, lineNum, "Broad exception handling",
					fmt.Sprintf("Broad exception handling: %s", strings.TrimSpace(text)), model.SeverityMedium))
				break
			}
		}
	})
	return findings
}

func checkCommentedCode(f *diff.FileDiff) []Finding {
	var findings []Finding
	addedLines(f, func(lineNum int, text string) {
		if todoPattern.MatchString(text) {
			return
		}
		for _, pat := range commentedCodePatterns {
			if pat.MatchString(text) {
				findings = append(findings, hygiene(f, lineNum, "Commented-out code",
					fmt.Sprintf("Commented-out code: %s", strings.TrimSpace(text)), model.SeverityLow))
				break
			}
		}
	})
	return findings
}

func checkTodos(f *diff.FileDiff) []Finding {
	var findings []Finding
	addedLines(f, func(lineNum int, text string) {
		if marker := todoPattern.FindString(text); marker != "" {
			findings = append(findings, hygiene(f, lineNum, fmt.Sprintf("%s marker left in code", strings.ToUpper(marker)),
				fmt.Sprintf("Added %s marker: %s", marker, strings.TrimSpace(text)), model.SeverityNit))
		}
	})
	return findings
}

// checkDuplication looks for near-duplicate code blocks introduced by the diff.
// It uses a sliding window of N lines over added content and looks for repeated hashes.
func checkDuplication(pd *diff.ParsedDiff) []Finding {
	const windowSize = 4

	type blockLoc struct {
		file *diff.FileDiff
		line int
	}
	type addedLine struct {
		text    string
		lineNum int
	}

	blocks := make(map[string][]blockLoc) // hash -> locations
	var order []string

	for fi := range pd.Files {
		f := &pd.Files[fi]

		var added []addedLine
		addedLines(f, func(lineNum int, text string) {
			trimmed := strings.TrimSpace(text)
			// Skip trivial lines
			if trimmed != "" && trimmed != "{" && trimmed != "}" && trimmed != ")" && trimmed != "(" {
				added = append(added, addedLine{text: trimmed, lineNum: lineNum})
			}
		})

		for i := 0; i+windowSize <= len(added); i++ {
			window := make([]string, 0, windowSize)
			for j := 0; j < windowSize; j++ {
				window = append(window, added[i+j].text)
			}
			h := hashBlock(window)
			if _, ok := blocks[h]; !ok {
				order = append(order, h)
			}
			blocks[h] = append(blocks[h], blockLoc{file: f, line: added[i].lineNum})
		}
	}

	var findings []Finding
	for _, h := range order {
		locs := blocks[h]
		if len(locs) < 2 {
			continue
		}
		// Report on the second (and subsequent) occurrences
		for _, loc := range locs[1:] {
			findings = append(findings, hygiene(loc.file, loc.line, "Near-duplicate code block",
				fmt.Sprintf("Near-duplicate code block (also at %s:%d)", locs[0].file.Path, locs[0].line), model.SeverityMedium))
		}
	}

	return findings
}

func hashBlock(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
