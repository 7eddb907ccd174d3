package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/review"
	"github.com/sprite-ai/lensrev/internal/stream"
)

var reviewCmd = &cobra.Command{
	Use:   "review [commit-range | -]",
	Short: "Review changes and print a report",
	Long: `Run the selected lenses over a diff and print a report. By default the
staged changes of the current repository are reviewed. The review is saved
and can be inspected later through the API.

Exit codes:
  0  no issue at or above --fail-on
  1  issues at or above --fail-on
  3  the review could not run

Examples:
  lensrev review                        # staged changes
  lensrev review --mode unstaged         # working tree changes
  lensrev review HEAD~1..HEAD           # last commit
  git diff | lensrev review -           # pipe any diff
  lensrev review --profile static       # no AI provider needed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringP("profile", "P", "", "lens profile: quick, strict, perf, security, static")
	reviewCmd.Flags().StringSlice("lens", nil, "lenses to run, overriding the profile's lens list")
	reviewCmd.Flags().String("mode", "", "diff source: staged, unstaged, head")
	reviewCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown")
	reviewCmd.Flags().String("fail-on", "high", "lowest severity that makes the command exit 1")
	reviewCmd.Flags().BoolP("verbose", "v", false, "print model output as it streams")
	reviewCmd.Flags().Int("concurrency", 0, "lenses run in parallel")
}

func runReview(cmd *cobra.Command, args []string) error {
	failOn, err := model.ParseSeverity(mustString(cmd, "fail-on"))
	if err != nil {
		return err
	}
	format := mustString(cmd, "format")
	switch format {
	case "text", "json", "markdown":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	a, err := newApp(cmd)
	if err != nil {
		exitCode = ExitFailure
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	req := review.Request{
		Profile: mustString(cmd, "profile"),
		Mode:    mustString(cmd, "mode"),
	}
	req.Lenses, _ = cmd.Flags().GetStringSlice("lens")

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, rootErr := diff.RepoRoot(ctx, cwd)
	switch {
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		req.Diff = string(data)
		if rootErr != nil {
			root = cwd
		}
	case rootErr != nil:
		return fmt.Errorf("not in a git repository (or git not installed): %w", rootErr)
	case len(args) == 1:
		req.Mode, req.Range = review.ModeRange, args[0]
	}
	req.ProjectPath = root

	id, err := a.reviews.Start(ctx, req)
	if err != nil {
		var re *review.Error
		if errors.As(err, &re) && re.Code == review.CodeEmptyDiff {
			fmt.Fprintln(cmd.OutOrStdout(), "No changes to review.")
			return nil
		}
		exitCode = ExitFailure
		return err
	}

	progress := &progressSink{w: cmd.ErrOrStderr(), verbose: mustBool(cmd, "verbose")}
	if err := a.registry.Subscribe(ctx, id, 0, progress); err != nil {
		a.reviews.Cancel(id)
		a.reviews.Wait()
		exitCode = ExitFailure
		return err
	}
	a.reviews.Wait()

	switch final := progress.final.(type) {
	case stream.Complete:
		if err := writeReport(cmd.OutOrStdout(), format, final); err != nil {
			return err
		}
		for _, issue := range final.Issues {
			if issue.Severity.AtLeast(failOn) {
				exitCode = ExitFindings
				break
			}
		}
		return nil
	case stream.ErrorEvent:
		exitCode = ExitFailure
		return fmt.Errorf("review failed: %s (%s)", final.Message, final.Code)
	default:
		exitCode = ExitFailure
		return errors.New("review ended without a result")
	}
}

// progressSink prints lens progress and keeps the terminal event.
type progressSink struct {
	w       io.Writer
	verbose bool
	final   stream.Event
}

func (p *progressSink) Send(e stream.Event) error {
	switch ev := e.(type) {
	case stream.StepStart:
		fmt.Fprintf(p.w, "  ..  %s\n", ev.LensID)
	case stream.StepComplete:
		fmt.Fprintf(p.w, "  ok  %s (%d issues)\n", ev.LensID, ev.IssueCount)
	case stream.StepError:
		fmt.Fprintf(p.w, "  !!  %s: %s (%s)\n", ev.LensID, ev.Message, ev.Code)
	case stream.Chunk:
		if p.verbose {
			fmt.Fprint(p.w, ev.Content)
		}
	case stream.Complete, stream.ErrorEvent:
		p.final = e
	}
	return nil
}

func (p *progressSink) Close() error { return nil }

func writeReport(w io.Writer, format string, c stream.Complete) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case "markdown":
		return writeMarkdown(w, c)
	default:
		return writeText(w, c)
	}
}

func writeText(w io.Writer, c stream.Complete) error {
	fmt.Fprintf(w, "Review %s\n%s\n\n", c.ReviewID, c.Summary)
	for _, fl := range c.FailedLenses {
		fmt.Fprintf(w, "  lens %s failed: %s (%s)\n", fl.LensID, fl.Message, fl.Code)
	}

	if len(c.Issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}

	files, byFile := groupByFile(c.Issues)
	for _, file := range files {
		fmt.Fprintf(w, "  %s\n", file)
		for _, issue := range byFile[file] {
			fmt.Fprintf(w, "    %s [%s] %s: %s\n", severityIcon(issue.Severity), issue.LensID, issue.Location(), issue.Title)
			if issue.Suggestion != "" {
				fmt.Fprintf(w, "         fix: %s\n", issue.Suggestion)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeMarkdown(w io.Writer, c stream.Complete) error {
	fmt.Fprintf(w, "## Review Report\n\n")
	fmt.Fprintf(w, "%s\n\n", c.Summary)

	if len(c.Issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}

	fmt.Fprintln(w, "| Severity | Lens | Location | Issue |")
	fmt.Fprintln(w, "|----------|------|----------|-------|")
	for _, issue := range c.Issues {
		fmt.Fprintf(w, "| %s | %s | `%s` | %s |\n", issue.Severity, issue.LensID, issue.Location(), markdownCell(issue.Title))
	}
	return nil
}

// groupByFile keeps files in order of first appearance.
func groupByFile(issues []model.ReviewIssue) ([]string, map[string][]model.ReviewIssue) {
	var files []string
	byFile := make(map[string][]model.ReviewIssue)
	for _, issue := range issues {
		if _, seen := byFile[issue.File]; !seen {
			files = append(files, issue.File)
		}
		byFile[issue.File] = append(byFile[issue.File], issue)
	}
	return files, byFile
}

func markdownCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityBlocker:
		return "!!"
	case model.SeverityHigh:
		return "! "
	case model.SeverityMedium:
		return "* "
	case model.SeverityLow:
		return "- "
	default:
		return "  "
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
