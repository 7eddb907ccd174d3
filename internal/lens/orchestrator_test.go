package lens

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

func okLens(id string, delay time.Duration, issues ...model.ReviewIssue) Lens {
	return Func{Name: id, Fn: func(ctx context.Context, in Input) (*model.LensResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.LensResult{LensID: id, Summary: id + " done", Issues: issues}, nil
	}}
}

func failLens(id string, err error) Lens {
	return Func{Name: id, Fn: func(context.Context, Input) (*model.LensResult, error) {
		return nil, err
	}}
}

func issue(sev model.Severity, title string) model.ReviewIssue {
	return model.ReviewIssue{Severity: sev, Title: title, File: "a.go"}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds(lensID string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		if e.LensID == lensID && e.Kind != EventChunk {
			out = append(out, e.Kind)
		}
	}
	return out
}

func TestOrchestratePreservesLensOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var lenses []Lens
	var want []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("lens-%d", i)
		want = append(want, id)
		lenses = append(lenses, okLens(id, time.Duration(rng.Intn(30))*time.Millisecond, issue(model.SeverityLow, id)))
	}

	out, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, lenses, Options{Concurrency: 4})
	require.NoError(t, err)

	var got, results []string
	for _, s := range out.LensStats {
		got = append(got, s.LensID)
	}
	for _, r := range out.Results {
		results = append(results, r.LensID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, want, results)
	assert.Len(t, out.Issues, 8)
	assert.Equal(t, "lens-0", out.Issues[0].LensID)
	assert.Equal(t, "lens-0-1", out.Issues[0].ID)
}

func TestOrchestrateBoundedConcurrency(t *testing.T) {
	const T = 60 * time.Millisecond
	var running, peak int32
	var lenses []Lens
	for i := 0; i < 5; i++ {
		lenses = append(lenses, Func{Name: fmt.Sprintf("l%d", i), Fn: func(ctx context.Context, in Input) (*model.LensResult, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(T)
			atomic.AddInt32(&running, -1)
			return &model.LensResult{}, nil
		}})
	}

	start := time.Now()
	_, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, lenses, Options{Concurrency: 2})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 3*T)
	assert.Less(t, elapsed, 4*T)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestOrchestratePartialFailure(t *testing.T) {
	rec := &recorder{}
	lenses := []Lens{
		okLens("a", 0, issue(model.SeverityLow, "a1")),
		failLens("b", errors.New("boom")),
		okLens("c", 0, issue(model.SeverityHigh, "c1"), issue(model.SeverityNit, "c2")),
	}

	out, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, lenses, Options{Concurrency: 3, Emit: rec.emit})
	require.NoError(t, err)

	assert.Len(t, out.Results, 2)
	require.Len(t, out.FailedLenses, 1)
	assert.Equal(t, model.FailedLens{LensID: "b", Code: "LENS_ERROR", Message: "boom"}, out.FailedLenses[0])

	// Stable sort by severity keeps lens order within a severity.
	var titles []string
	for _, i := range out.Issues {
		titles = append(titles, i.Title)
	}
	assert.Equal(t, []string{"c1", "a1", "c2"}, titles)
	assert.Equal(t, "3 issues from 2 lenses (1 failed)", out.Summary)

	assert.Equal(t, []EventKind{EventStepStart, EventStepComplete}, rec.kinds("a"))
	assert.Equal(t, []EventKind{EventStepStart, EventStepError}, rec.kinds("b"))
	assert.Equal(t, []EventKind{EventStepStart, EventStepComplete}, rec.kinds("c"))
}

func TestOrchestrateAllFailed(t *testing.T) {
	lenses := []Lens{
		failLens("first", errors.New("first failure")),
		failLens("second", &ai.Error{Provider: "anthropic", Kind: ai.KindRateLimited, Err: errors.New("429")}),
	}

	_, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, lenses, Options{Concurrency: 2})
	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, CodeRateLimited, oe.Code)
	require.NotNil(t, oe.Last)
	assert.Equal(t, "second", oe.Last.LensID)

	out, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, lenses, Options{Concurrency: 2, PartialOnAllFailed: true})
	require.NoError(t, err)
	assert.Empty(t, out.Issues)
	assert.Len(t, out.FailedLenses, 2)
	assert.Equal(t, NoAnalysisSummary, out.Summary)
}

func TestOrchestrateCancellationStopsLaunches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started int32
	first := Func{Name: "first", Fn: func(context.Context, Input) (*model.LensResult, error) {
		atomic.AddInt32(&started, 1)
		cancel()
		return &model.LensResult{Issues: []model.ReviewIssue{issue(model.SeverityHigh, "x")}}, nil
	}}
	rest := Func{Name: "rest", Fn: func(context.Context, Input) (*model.LensResult, error) {
		atomic.AddInt32(&started, 1)
		return &model.LensResult{}, nil
	}}

	out, err := Orchestrate(ctx, &diff.ParsedDiff{}, []Lens{first, rest, rest}, Options{Concurrency: 1})
	assert.Nil(t, out)
	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, CodeCancelled, oe.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
}

func TestOrchestrateTimeoutAndPanic(t *testing.T) {
	slow := okLens("slow", time.Second)
	panicky := Func{Name: "panicky", Fn: func(context.Context, Input) (*model.LensResult, error) {
		panic("bad lens")
	}}
	fine := okLens("fine", 0)

	out, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, []Lens{slow, panicky, fine}, Options{Concurrency: 3, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, out.FailedLenses, 2)
	assert.Equal(t, "TIMEOUT", out.FailedLenses[0].Code)
	assert.Equal(t, "LENS_ERROR", out.FailedLenses[1].Code)
	assert.Contains(t, out.FailedLenses[1].Message, "panicked")
}

func TestOrchestrateMinSeverity(t *testing.T) {
	lenses := []Lens{okLens("a", 0, issue(model.SeverityHigh, "h"), issue(model.SeverityNit, "n"))}
	out, err := Orchestrate(context.Background(), nil, lenses, Options{MinSeverity: model.SeverityLow})
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "h", out.Issues[0].Title)
	assert.Len(t, out.Results[0].Issues, 2)
}

func TestOrchestrateNoLenses(t *testing.T) {
	_, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, nil, Options{})
	var oe *OrchestrationError
	require.ErrorAs(t, err, &oe)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{context.DeadlineExceeded, CodeTimeout},
		{fmt.Errorf("wrapped: %w", context.Canceled), CodeCancelled},
		{&ai.Error{Kind: ai.KindAuth, Err: errors.New("401")}, CodeAuth},
		{&ai.Error{Kind: ai.KindUnavailable, Err: errors.New("503")}, CodeAI},
		{&parseError{err: errors.New("bad json")}, CodeParse},
		{errors.New("other"), CodeLens},
		{&LensError{LensID: "x", Code: CodeParse, Err: errors.New("kept")}, CodeParse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify("x", tt.err).Code, "%v", tt.err)
	}
}
