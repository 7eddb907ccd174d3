package analysis

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Manifest files by ecosystem. Lockfiles are not scanned.
var depFiles = map[string]string{
	"go.mod":           "go",
	"package.json":     "npm",
	"Cargo.toml":       "cargo",
	"requirements.txt": "pip",
	"Pipfile":          "pip",
	"pyproject.toml":   "pip",
	"Gemfile":          "gem",
	"mix.exs":          "hex",
}

// NewDependencyPass reports dependencies added to manifest files.
func NewDependencyPass(_ context.Context, pd *diff.ParsedDiff, _ string) []Finding {
	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]
		eco, isDep := depFiles[path.Base(f.Path)]
		if !isDep {
			continue
		}

		addedLines(f, func(lineNum int, text string) {
			dep := parseDepLine(strings.TrimSpace(text), eco)
			if dep == "" {
				return
			}
			findings = append(findings, Finding{
				Pass:     "deps",
				Category: "dependencies",
				File:     f.Path,
				Line:     lineNum,
				Title:    fmt.Sprintf("New %s dependency %s", eco, dep),
				Message:  fmt.Sprintf("New %s dependency: %s. Check its license, maintenance and whether it is needed.", eco, dep),
				Severity: model.SeverityLow,
			})
		})
	}

	return findings
}

func parseDepLine(line, eco string) string {
	switch eco {
	case "go":
		// go.mod: require github.com/foo/bar v1.2.3
		// go.mod: \tgithub.com/foo/bar v1.2.3
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "require ") {
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				return parts[1]
			}
		}
		// Inside require block
		parts := strings.Fields(line)
		if len(parts) >= 2 && strings.Contains(parts[0], "/") && !strings.HasPrefix(parts[0], "//") {
			return parts[0]
		}

	case "npm":
		// package.json: "dep-name": "^1.0.0"
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ",")
		if strings.Contains(line, ":") {
			parts := strings.SplitN(line, ":", 2)
			name := strings.Trim(parts[0], `" `)
			if name != "" && !strings.HasPrefix(name, "@types/") &&
				name != "dependencies" && name != "devDependencies" &&
				name != "peerDependencies" && name != "name" && name != "version" {
				return name
			}
		}

	case "cargo":
		// Cargo.toml: dep-name = "1.0"  or  dep-name = { version = "1.0" }
		line = strings.TrimSpace(line)
		if strings.Contains(line, "=") && !strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "#") {
			parts := strings.SplitN(line, "=", 2)
			name := strings.TrimSpace(parts[0])
			if name != "" && name != "name" && name != "version" && name != "edition" &&
				name != "authors" && name != "description" && name != "license" &&
				!strings.Contains(name, ".") {
				return name
			}
		}

	case "pip":
		// requirements.txt: package==1.0.0 or package>=1.0
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			return ""
		}
		// Split on version specifiers
		for _, sep := range []string{"==", ">=", "<=", "!=", "~=", ">"} {
			if idx := strings.Index(line, sep); idx > 0 {
				return strings.TrimSpace(line[:idx])
			}
		}
		if !strings.Contains(line, " ") {
			return line
		}

	case "gem":
		// Gemfile: gem 'name', '~> 1.0'
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "gem ") {
			parts := strings.SplitN(line, ",", 2)
			name := strings.TrimPrefix(parts[0], "gem ")
			name = strings.Trim(name, `'" `)
			return name
		}

	case "hex":
		// mix.exs: {:dep_name, "~> 1.0"}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{:") {
			end := strings.Index(line, ",")
			if end > 2 {
				return strings.TrimPrefix(line[:end], "{:")
			}
		}
	}

	return ""
}
