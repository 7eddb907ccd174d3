package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Function/method definition patterns for various languages.
var funcDefPatterns = []*regexp.Regexp{
	// Go: func Name(
	regexp.MustCompile(`^\s*func\s+(\w+)\s*\(`),
	// Go method: func (r *Type) Name(
	regexp.MustCompile(`^\s*func\s+\([^)]+\)\s+(\w+)\s*\(`),
	// Python: def name(
	regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`),
	// JS/TS: function name(  or  const name = (  or  name(
	regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`),
	// Ruby: def name
	regexp.MustCompile(`^\s*def\s+(\w+)`),
	// Rust: fn name(  or  pub fn name(
	regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*[(<]`),
	// Java/C#: visibility type name(
	regexp.MustCompile(`^\s*(?:public|private|protected|static|final|abstract|override|async)\s+.*?(\w+)\s*\(`),
	// Elixir: def name(  or  defp name(
	regexp.MustCompile(`^\s*defp?\s+(\w+)\s*[(\n]`),
}

// DeletedCodePass reports removed functions, raising the severity when a
// test under root still references them.
func DeletedCodePass(ctx context.Context, pd *diff.ParsedDiff, root string) []Finding {
	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]
		if f.Operation == diff.OperationRename {
			continue
		}
		for _, fn := range extractDeletedFunctions(f) {
			if ctx.Err() != nil {
				return findings
			}
			finding := Finding{
				Pass:     "deleted",
				Category: "correctness",
				File:     f.Path,
				Line:     fn.line,
				Title:    fmt.Sprintf("Deleted function %s", fn.name),
				Message:  fmt.Sprintf("Deleted function: %s", fn.name),
				Severity: model.SeverityNit,
			}
			if refs := findTestReferences(root, f.Path, fn.name); len(refs) > 0 {
				finding.Title = fmt.Sprintf("Deleted function %s is still referenced in tests", fn.name)
				finding.Message = fmt.Sprintf("Deleted function %q is referenced in tests: %s", fn.name, strings.Join(refs, ", "))
				finding.Severity = model.SeverityHigh
			}
			findings = append(findings, finding)
		}
	}

	return findings
}

type funcInfo struct {
	name string
	line int
}

func extractDeletedFunctions(f *diff.FileDiff) []funcInfo {
	var funcs []funcInfo
	deletedLines(f, func(lineNum int, text string) {
		for _, pat := range funcDefPatterns {
			if matches := pat.FindStringSubmatch(text); len(matches) > 1 {
				funcs = append(funcs, funcInfo{name: matches[1], line: lineNum})
				break
			}
		}
	})
	return funcs
}

func findTestReferences(repoDir, filePath, funcName string) []string {
	if repoDir == "" {
		return nil
	}

	var refs []string
	testPattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(funcName) + `\b`)

	// Determine test file patterns based on language
	dir := filepath.Dir(filepath.Join(repoDir, filePath))
	testGlobs := []string{
		filepath.Join(dir, "*_test.*"),
		filepath.Join(dir, "test_*"),
		filepath.Join(dir, "*_spec.*"),
		filepath.Join(dir, "**", "*_test.*"),
	}

	for _, pattern := range testGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			content, err := os.ReadFile(match)
			if err != nil {
				continue
			}
			if testPattern.Match(content) {
				rel, _ := filepath.Rel(repoDir, match)
				if rel == "" {
					rel = match
				}
				refs = append(refs, rel)
			}
		}
	}

	return refs
}
