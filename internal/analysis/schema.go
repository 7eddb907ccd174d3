package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Schema/migration file patterns.
var schemaPatterns = []struct {
	pattern     *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`(?i)migrat`), "database migration"},
	{regexp.MustCompile(`(?i)schema`), "schema definition"},
	{regexp.MustCompile(`\.proto$`), "protobuf definition"},
	{regexp.MustCompile(`(?i)(openapi|swagger)\.(ya?ml|json)$`), "OpenAPI spec"},
	{regexp.MustCompile(`(?i)graphql$`), "GraphQL schema"},
	{regexp.MustCompile(`\.prisma$`), "Prisma schema"},
	{regexp.MustCompile(`(?i)alembic.*\.py$`), "Alembic migration"},
	{regexp.MustCompile(`(?i)flyway`), "Flyway migration"},
	{regexp.MustCompile(`(?i)knex.*migrat`), "Knex migration"},
	{regexp.MustCompile(`(?i)sequel.*migrat`), "Sequel migration"},
	{regexp.MustCompile(`(?i)active_record.*migrat`), "ActiveRecord migration"},
	{regexp.MustCompile(`(?i)ecto.*migrat`), "Ecto migration"},
}

// SQL DDL keywords in added lines.
var ddlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(CREATE|ALTER|DROP)\s+(TABLE|INDEX|VIEW|SCHEMA|DATABASE|TYPE|SEQUENCE)\b`),
	regexp.MustCompile(`(?i)\bADD\s+COLUMN\b`),
	regexp.MustCompile(`(?i)\bDROP\s+COLUMN\b`),
	regexp.MustCompile(`(?i)\bRENAME\s+(TABLE|COLUMN)\b`),
	regexp.MustCompile(`(?i)\bMODIFY\s+COLUMN\b`),
}

// SchemaChangePass detects changes to database schemas, migrations, and API specs.
func SchemaChangePass(_ context.Context, pd *diff.ParsedDiff, _ string) []Finding {
	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]

		for _, sp := range schemaPatterns {
			if sp.pattern.MatchString(f.Path) {
				findings = append(findings, Finding{
					Pass:     "schema",
					Category: "schema",
					File:     f.Path,
					Title:    fmt.Sprintf("Changes to %s file", sp.description),
					Message:  fmt.Sprintf("Changes to %s file; check compatibility with deployed data and clients.", sp.description),
					Severity: model.SeverityMedium,
				})
				break
			}
		}

		findings = append(findings, checkDDL(f)...)
	}

	return findings
}

func checkDDL(f *diff.FileDiff) []Finding {
	var findings []Finding
	addedLines(f, func(lineNum int, text string) {
		for _, pat := range ddlPatterns {
			if pat.MatchString(text) {
				findings = append(findings, Finding{
					Pass:     "schema",
					Category: "schema",
					File:     f.Path,
					Line:     lineNum,
					Title:    "DDL statement",
					Message:  fmt.Sprintf("DDL statement: %s", strings.TrimSpace(text)),
					Severity: model.SeverityHigh,
				})
				break
			}
		}
	})
	return findings
}
