package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Security-sensitive patterns grouped by category. Matches mark code that
// deserves a closer look, so most groups rank medium or below.
var securityPatterns = []struct {
	category string
	patterns []*regexp.Regexp
	severity model.Severity
}{
	{
		category: "authentication",
		patterns: compilePatterns(
			`(?i)(auth|login|logout|signin|signup|password|credential|token|jwt|oauth|session|cookie)`,
		),
		severity: model.SeverityMedium,
	},
	{
		category: "authorization",
		patterns: compilePatterns(
			`(?i)(permission|role|access.?control|rbac|acl|authorize|forbidden|is.?admin|can.?access)`,
		),
		severity: model.SeverityMedium,
	},
	{
		category: "SQL/database",
		patterns: compilePatterns(
			`(?i)(db\.exec|db\.query|\.prepare\(|raw.?sql|sql\.)`,
			`(?i)(\bSELECT\b|\bINSERT\b|\bUPDATE\b|\bDELETE\b|\bDROP\b|\bALTER\b)\s`,
			`(?i)(connection\.execute|cursor\.execute)`,
		),
		severity: model.SeverityMedium,
	},
	{
		category: "cryptography",
		patterns: compilePatterns(
			`(?i)(encrypt|decrypt|hash|hmac|cipher|aes|rsa|sha256|sha512|bcrypt|argon|scrypt|pbkdf)`,
			`(?i)(private.?key|public.?key|secret.?key|signing.?key|crypto\.)`,
		),
		severity: model.SeverityMedium,
	},
	{
		category: "file system",
		patterns: compilePatterns(
			`(?i)(os\.Remove|os\.Rename|os\.Chmod|os\.Chown|os\.MkdirAll|os\.WriteFile|ioutil\.WriteFile)`,
			`(?i)(unlink|rmdir|chmod|chown|write_file|open.*[\"']w)`,
			`(?i)(path\.join|filepath\.join).*\.\.|\.\.\/`,
		),
		severity: model.SeverityLow,
	},
	{
		category: "environment/secrets",
		patterns: compilePatterns(
			`(?i)(os\.Getenv|os\.environ|process\.env|ENV\[|getenv)`,
			`(?i)(api.?key|secret|password|token)\s*[:=]`,
			`(?i)(PRIVATE|SECRET|PASSWORD|TOKEN|KEY)\s*=\s*["']`,
		),
		severity: model.SeverityLow,
	},
	{
		category: "network/HTTP",
		patterns: compilePatterns(
			`(?i)(http\.ListenAndServe|\.listen\(|cors|origin|allow.?origin)`,
			`(?i)(tls\.Config|InsecureSkipVerify|disable.?ssl|verify.?ssl.*false)`,
		),
		severity: model.SeverityLow,
	},
	{
		category: "subprocess/exec",
		patterns: compilePatterns(
			`(?i)(exec\.Command|os\.system|subprocess|child_process|shell_exec|system\()`,
			`(?i)(eval\(|exec\(|compile\()`,
		),
		severity: model.SeverityHigh,
	},
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// SecuritySurfacePass flags added lines that touch security-sensitive code.
// Comment-only lines are ignored.
func SecuritySurfacePass(_ context.Context, pd *diff.ParsedDiff, _ string) []Finding {
	var findings []Finding

	for i := range pd.Files {
		f := &pd.Files[i]
		addedLines(f, func(lineNum int, text string) {
			trimmed := strings.TrimSpace(text)
			if isCommentLine(trimmed) {
				return
			}
			for _, sp := range securityPatterns {
				for _, re := range sp.patterns {
					if re.MatchString(text) {
						findings = append(findings, Finding{
							Pass:     "security",
							Category: "security",
							File:     f.Path,
							Line:     lineNum,
							Title:    fmt.Sprintf("Security-sensitive change (%s)", sp.category),
							Message:  fmt.Sprintf("Security-sensitive change (%s): %s", sp.category, trimmed),
							Severity: sp.severity,
						})
						break // one finding per pattern group per line
					}
				}
			}
		})
	}

	return deduplicateFindings(findings)
}

func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*")
}
