package lens

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

const todoDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main

+// TODO: remove this before release
 func main() {}
`

func parsed(t *testing.T, raw string) *diff.ParsedDiff {
	t.Helper()
	pd, err := diff.Parse(raw)
	require.NoError(t, err)
	return pd
}

func TestParseOutputObject(t *testing.T) {
	out, err := ParseOutput("```json\n" + `{"summary":"one problem","issues":[{"severity":"critical","title":"Nil map","file":"a.go","line":4,"description":"writes to nil map","confidence":1.7}]}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "one problem", out.Summary)
	require.Len(t, out.Issues, 1)
	got := out.Issues[0]
	assert.Equal(t, model.SeverityBlocker, got.Severity)
	assert.Equal(t, "a.go", got.File)
	assert.Equal(t, 4, got.Line)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestParseOutputArrayWithAlternateFields(t *testing.T) {
	out, err := ParseOutput(`[{"severity":"medium","path":"b.go","startLine":9,"endLine":12,"message":"slow loop"}]`)
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	got := out.Issues[0]
	assert.Equal(t, "b.go", got.File)
	assert.Equal(t, 9, got.Line)
	assert.Equal(t, 12, got.EndLine)
	assert.Equal(t, "slow loop", got.Title)
	assert.Equal(t, "slow loop", got.Description)
}

func TestParseOutputErrors(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"issues": [`, `[{"severity":"spicy","title":"x"}]`, `[{"severity":"low"}]`} {
		_, err := ParseOutput(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestAILensStreamsChunksAndParses(t *testing.T) {
	var gotReq ai.Request
	client := ai.ClientFunc(func(_ context.Context, req ai.Request, onChunk func(string)) (*ai.Response, error) {
		gotReq = req
		onChunk(`{"issues":`)
		onChunk(`[{"severity":"high","title":"Bug"}]}`)
		return &ai.Response{Text: `{"issues":[{"severity":"high","title":"Bug"}]}`}, nil
	})

	rec := &recorder{}
	l := NewAI("correctness", aiFocus["correctness"], client)
	out, err := Orchestrate(context.Background(), parsed(t, todoDiff), []Lens{l}, Options{Emit: rec.emit, ProjectContext: "a CLI tool"})
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "correctness", out.Issues[0].LensID)

	assert.Contains(t, gotReq.System, "correctness")
	assert.Contains(t, gotReq.Prompt, "a CLI tool")
	assert.Contains(t, gotReq.Prompt, "+// TODO: remove this before release")

	var chunks []string
	for _, e := range rec.events {
		if e.Kind == EventChunk {
			chunks = append(chunks, e.Content)
		}
	}
	assert.Equal(t, `{"issues":[{"severity":"high","title":"Bug"}]}`, strings.Join(chunks, ""))
}

func TestAILensRepairsOnce(t *testing.T) {
	calls := 0
	client := ai.ClientFunc(func(_ context.Context, req ai.Request, _ func(string)) (*ai.Response, error) {
		calls++
		if calls == 1 {
			return &ai.Response{Text: "Sure! Here are the issues: none"}, nil
		}
		assert.Contains(t, req.Prompt, "not valid JSON")
		return &ai.Response{Text: `{"summary":"clean","issues":[]}`}, nil
	})

	res, err := NewAI("tests", aiFocus["tests"], client).Run(context.Background(), Input{Diff: &diff.ParsedDiff{}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "clean", res.Summary)
	assert.Empty(t, res.Issues)
}

func TestAILensParseFailureIsClassified(t *testing.T) {
	client := ai.ClientFunc(func(context.Context, ai.Request, func(string)) (*ai.Response, error) {
		return &ai.Response{Text: "still not json"}, nil
	})
	out, err := Orchestrate(context.Background(), &diff.ParsedDiff{}, []Lens{
		NewAI("simplicity", aiFocus["simplicity"], client),
		NewStatic("static-hygiene", "anti_patterns"),
	}, Options{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, out.FailedLenses, 1)
	assert.Equal(t, "PARSE_ERROR", out.FailedLenses[0].Code)
}

func TestAILensWithoutClient(t *testing.T) {
	_, err := NewAI("security", "focus", nil).Run(context.Background(), Input{Diff: &diff.ParsedDiff{}})
	var le *LensError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, CodeAI, le.Code)
	assert.ErrorIs(t, err, ai.ErrNoProvider)
}

func TestStaticLens(t *testing.T) {
	res, err := NewStatic("static-hygiene", "anti_patterns").Run(context.Background(), Input{Diff: parsed(t, todoDiff)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, "main.go", res.Issues[0].File)
	assert.Equal(t, 3, res.Issues[0].Line)
}

func TestResolveAndProfiles(t *testing.T) {
	_, err := Resolve([]string{"correctness"}, nil)
	assert.ErrorIs(t, err, ai.ErrNoProvider)

	lenses, err := Resolve([]string{"static-security", "static-hygiene", "static-security"}, nil)
	require.NoError(t, err)
	require.Len(t, lenses, 2)
	assert.Equal(t, "static-hygiene", lenses[1].ID())

	_, err = Resolve([]string{"nope"}, nil)
	assert.ErrorContains(t, err, "unknown lens")

	p, err := LookupProfile("Strict")
	require.NoError(t, err)
	assert.Equal(t, AIOrder, p.Lenses)
	_, err = LookupProfile("fast")
	assert.Error(t, err)

	for _, p := range Profiles() {
		for _, id := range p.Lenses {
			_, err := New(id, ai.ClientFunc(nil))
			assert.NoError(t, err, "profile %s lens %s", p.Name, id)
		}
	}
}
