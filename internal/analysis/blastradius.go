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

// BlastRadiusPass estimates how many references under root point at
// functions whose definitions the diff changes.
func BlastRadiusPass(ctx context.Context, pd *diff.ParsedDiff, root string) []Finding {
	if root == "" {
		return nil
	}

	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]
		for _, fn := range extractChangedFunctions(f) {
			count := countReferences(ctx, root, f.Path, fn)
			finding := Finding{
				Pass:     "blast_radius",
				Category: "impact",
				File:     f.Path,
				Title:    fmt.Sprintf("%s is widely referenced", fn),
			}
			switch {
			case count > 15:
				finding.Message = fmt.Sprintf("Function %q has %d references (high blast radius)", fn, count)
				finding.Severity = model.SeverityMedium
			case count > 5:
				finding.Message = fmt.Sprintf("Function %q has %d references across the codebase", fn, count)
				finding.Severity = model.SeverityLow
			default:
				continue
			}
			findings = append(findings, finding)
		}
	}

	return findings
}

func extractChangedFunctions(f *diff.FileDiff) []string {
	seen := make(map[string]bool)
	var funcs []string

	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if line.Op == diff.LineContext {
				continue
			}
			for _, pat := range funcDefPatterns {
				if matches := pat.FindStringSubmatch(line.Text); len(matches) > 1 {
					name := matches[1]
					if !seen[name] && len(name) > 2 { // skip very short names
						seen[name] = true
						funcs = append(funcs, name)
					}
				}
			}
		}
	}

	return funcs
}

func countReferences(ctx context.Context, repoDir, sourceFile, funcName string) int {
	if len(funcName) < 3 {
		return 0
	}

	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(funcName) + `\b`)
	count := 0

	// Walk the repo directory looking for source files
	_ = filepath.Walk(repoDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}

		// Skip hidden dirs, vendor, node_modules, etc.
		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") || base == "vendor" || base == "node_modules" || base == "dist" || base == "build" {
				return filepath.SkipDir
			}
			return nil
		}

		// Only check source files
		if !isSourceFile(path) {
			return nil
		}

		// Skip the source file itself
		rel, _ := filepath.Rel(repoDir, path)
		if filepath.ToSlash(rel) == sourceFile {
			return nil
		}

		// Read and search
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		matches := pattern.FindAll(content, -1)
		count += len(matches)

		// Early exit if we have enough
		if count > 20 {
			return filepath.SkipAll
		}

		return nil
	})

	return count
}

func isSourceFile(path string) bool {
	ext := filepath.Ext(path)
	switch ext {
	case ".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rb", ".rs",
		".java", ".kt", ".scala", ".c", ".cpp", ".h", ".hpp",
		".cs", ".ex", ".exs", ".erl", ".hs", ".ml", ".swift":
		return true
	}
	return false
}
