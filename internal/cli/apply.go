package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/lensrev/internal/config"
	"github.com/sprite-ai/lensrev/internal/diff"
)

var applyCmd = &cobra.Command{
	Use:   "apply <patch-file | ->",
	Short: "Apply a unified diff to the working tree",
	Long: `Apply every file of a unified diff to the current repository, tolerating
hunks that drifted by a few lines. Files that already contain the change are
reported and left alone, so applying twice is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("dir", "d", "", "project directory (default: repository root)")
	applyCmd.Flags().Int("fuzz-window", 0, "lines a hunk may drift from its declared position")
	applyCmd.Flags().StringP("path", "p", "", "apply only this file of the diff")
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var raw []byte
	if args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading patch: %w", err)
	}

	pd, err := diff.Parse(string(raw))
	if err != nil {
		return err
	}
	if pd.Empty() {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to apply.")
		return nil
	}

	root := mustString(cmd, "dir")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if root, err = diff.RepoRoot(cmd.Context(), cwd); err != nil {
			root = cwd
		}
	}

	files := pd.Files
	if only := mustString(cmd, "path"); only != "" {
		f, ok := pd.File(only)
		if !ok {
			return fmt.Errorf("diff does not touch %s", only)
		}
		files = []diff.FileDiff{*f}
	}

	failed := applyFiles(cmd.OutOrStdout(), root, files, cfg)
	if failed > 0 {
		exitCode = ExitFailure
		return fmt.Errorf("%d of %d file(s) did not apply", failed, len(files))
	}
	return nil
}

func applyFiles(w io.Writer, root string, files []diff.FileDiff, cfg config.Config) int {
	opts := diff.ApplyOptions{FuzzWindow: cfg.FuzzWindow}
	failed := 0
	for i := range files {
		f := &files[i]
		res, err := diff.ApplyFile(root, f, opts)
		if err != nil {
			failed++
			var pe *diff.PatchError
			if errors.As(err, &pe) {
				fmt.Fprintf(w, "  FAIL %s: %s\n", f.Name(), pe.Error())
			} else {
				fmt.Fprintf(w, "  FAIL %s: %v\n", f.Name(), err)
			}
			continue
		}
		switch {
		case res.Status == diff.StatusAlreadyApplied:
			fmt.Fprintf(w, "  skip %s (already applied)\n", f.Name())
		case res.Deleted:
			fmt.Fprintf(w, "  del  %s\n", f.Name())
		default:
			fmt.Fprintf(w, "  ok   %s\n", f.Name())
		}
	}
	return failed
}
