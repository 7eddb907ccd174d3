package lens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// NoAnalysisSummary is the outcome summary when every lens failed and
// partial results were allowed.
const NoAnalysisSummary = "No analysis completed"

// EventKind names an orchestration progress event.
type EventKind string

const (
	EventStepStart    EventKind = "step_start"
	EventStepComplete EventKind = "step_complete"
	EventStepError    EventKind = "step_error"
	EventChunk        EventKind = "chunk"
)

// Event reports lens progress. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	LensID     string
	IssueCount int
	Code       Code
	Message    string
	Content    string
}

// Options controls one orchestration run.
type Options struct {
	// Concurrency caps how many lenses run at once. Values below 1 mean 1.
	Concurrency        int
	PartialOnAllFailed bool
	ProjectContext     string
	// Root is the project directory, used by lenses that read the working tree.
	Root string
	// Timeout bounds each lens individually. Zero means no limit.
	Timeout     time.Duration
	MinSeverity model.Severity
	// Emit receives progress events. It is called concurrently from lens
	// workers and may be nil.
	Emit   func(Event)
	Logger zerolog.Logger
}

type slot struct {
	result   *model.LensResult
	err      *LensError
	duration time.Duration
}

// Orchestrate runs lenses against pd using a fixed pool of workers and
// merges their results in lens order. Individual lens failures are recorded
// in the outcome. An *OrchestrationError is returned when the run was
// cancelled or when every lens failed and PartialOnAllFailed is false.
func Orchestrate(ctx context.Context, pd *diff.ParsedDiff, lenses []Lens, opts Options) (*model.OrchestrationOutcome, error) {
	if len(lenses) == 0 {
		return nil, &OrchestrationError{Code: CodeLens, Message: "no lenses selected"}
	}
	if pd == nil {
		pd = &diff.ParsedDiff{}
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(lenses) {
		workers = len(lenses)
	}

	in := Input{Diff: pd, ProjectContext: opts.ProjectContext, Root: opts.Root}
	slots := make([]slot, len(lenses))
	queue := make(chan int)

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		for i := range lenses {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case queue <- i:
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				if ctx.Err() != nil {
					continue
				}
				slots[i] = runLens(ctx, lenses[i], in, opts)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		orchestrations.WithLabelValues("cancelled").Inc()
		opts.Logger.Info().Err(err).Msg("orchestration cancelled, discarding results")
		return nil, &OrchestrationError{Code: CodeCancelled, Message: "orchestration cancelled"}
	}

	out, last := aggregate(lenses, slots)
	if len(out.Results) == 0 {
		if !opts.PartialOnAllFailed {
			orchestrations.WithLabelValues("failed").Inc()
			return nil, &OrchestrationError{Code: last.Code, Message: last.Error(), Last: last}
		}
		out.Summary = NoAnalysisSummary
		orchestrations.WithLabelValues("empty").Inc()
		return out, nil
	}

	out.Issues = model.FilterBySeverity(out.Issues, opts.MinSeverity)
	out.Summary = summarize(out)
	orchestrations.WithLabelValues("ok").Inc()
	return out, nil
}

func runLens(ctx context.Context, l Lens, in Input, opts Options) slot {
	id := l.ID()
	emit := func(e Event) {
		if opts.Emit != nil {
			e.LensID = id
			opts.Emit(e)
		}
	}

	lctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	in.OnChunk = func(s string) { emit(Event{Kind: EventChunk, Content: s}) }

	emit(Event{Kind: EventStepStart})
	start := time.Now()
	res, err := safeRun(lctx, l, in)
	elapsed := time.Since(start)

	if err == nil && res == nil {
		err = errors.New("lens returned no result")
	}
	if err != nil {
		le := classify(id, err)
		emit(Event{Kind: EventStepError, Code: le.Code, Message: le.Err.Error()})
		observeLens(id, elapsed, string(le.Code))
		opts.Logger.Warn().Str("lens", id).Str("code", string(le.Code)).Err(le.Err).Msg("lens failed")
		return slot{err: le, duration: elapsed}
	}

	emit(Event{Kind: EventStepComplete, IssueCount: len(res.Issues)})
	observeLens(id, elapsed, "ok")
	opts.Logger.Debug().Str("lens", id).Int("issues", len(res.Issues)).Dur("elapsed", elapsed).Msg("lens complete")
	return slot{result: res, duration: elapsed}
}

func safeRun(ctx context.Context, l Lens, in Input) (res *model.LensResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lens panicked: %v", r)
		}
	}()
	return l.Run(ctx, in)
}

// aggregate merges slots in lens order and returns the last failure.
func aggregate(lenses []Lens, slots []slot) (*model.OrchestrationOutcome, *LensError) {
	out := &model.OrchestrationOutcome{
		Issues:       []model.ReviewIssue{},
		LensStats:    []model.LensStat{},
		FailedLenses: []model.FailedLens{},
	}
	var last *LensError
	seq := make(map[string]int)

	for i, s := range slots {
		id := lenses[i].ID()
		if s.err != nil {
			out.FailedLenses = append(out.FailedLenses, model.FailedLens{
				LensID:  id,
				Code:    string(s.err.Code),
				Message: s.err.Err.Error(),
			})
			last = s.err
			continue
		}
		if s.result == nil {
			continue
		}

		tagged := make([]model.ReviewIssue, len(s.result.Issues))
		for j, issue := range s.result.Issues {
			seq[id]++
			issue.LensID = id
			issue.ID = fmt.Sprintf("%s-%d", id, seq[id])
			tagged[j] = issue
		}
		out.Issues = append(out.Issues, tagged...)
		out.Results = append(out.Results, model.LensResult{LensID: id, Summary: s.result.Summary, Issues: tagged})
		out.LensStats = append(out.LensStats, model.LensStat{
			LensID:     id,
			DurationMs: s.duration.Milliseconds(),
			IssueCount: len(tagged),
		})
	}

	sort.SliceStable(out.Issues, func(a, b int) bool {
		return out.Issues[a].Severity.Rank() > out.Issues[b].Severity.Rank()
	})
	return out, last
}

func summarize(out *model.OrchestrationOutcome) string {
	n := len(out.Issues)
	noun := "issues"
	if n == 1 {
		noun = "issue"
	}
	s := fmt.Sprintf("%d %s from %d lens", n, noun, len(out.Results))
	if len(out.Results) != 1 {
		s += "es"
	}
	if f := len(out.FailedLenses); f > 0 {
		s += fmt.Sprintf(" (%d failed)", f)
	}
	return s
}
