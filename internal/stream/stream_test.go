package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/lensrev/internal/lens"
	"github.com/sprite-ai/lensrev/internal/model"
)

func TestEventJSONCarriesType(t *testing.T) {
	data, err := json.Marshal(StepComplete{LensID: "security", IssueCount: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"step_complete","lensId":"security","issueCount":2}`, string(data))

	data, err = json.Marshal(ErrorEvent{Message: "all lenses failed", Code: "AI_ERROR"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"all lenses failed","code":"AI_ERROR"}`, string(data))
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"step_error","lensId":"tests","code":"TIMEOUT","message":"slow","extra":{"nested":true}}`))
	require.NoError(t, err)
	assert.Equal(t, StepError{LensID: "tests", Code: "TIMEOUT", Message: "slow"}, ev)

	ev, err = Decode([]byte(`{"type":"complete","reviewId":"r1","summary":"ok","issues":[],"lensStats":[],"failedLenses":[],"durationMs":5}`))
	require.NoError(t, err)
	c, ok := ev.(Complete)
	require.True(t, ok)
	assert.Equal(t, "r1", c.ReviewID)
	assert.True(t, IsTerminal(c))
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"progress"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestFromLens(t *testing.T) {
	assert.Equal(t, StepStart{LensID: "a"}, FromLens(lens.Event{Kind: lens.EventStepStart, LensID: "a"}))
	assert.Equal(t, StepError{LensID: "a", Code: "PARSE_ERROR", Message: "bad"},
		FromLens(lens.Event{Kind: lens.EventStepError, LensID: "a", Code: lens.CodeParse, Message: "bad"}))
	assert.Equal(t, Chunk{LensID: "a", Content: "x"}, FromLens(lens.Event{Kind: lens.EventChunk, LensID: "a", Content: "x"}))
}

func TestSSEWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(StepStart{LensID: "a"}))
	require.NoError(t, w.SendSeq(2, Chunk{Content: "hi"}))
	require.NoError(t, w.Send(ErrorEvent{Message: "boom", Code: "AI_ERROR"}))
	require.NoError(t, w.Send(Complete{Summary: "late"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: step_start\ndata: {\"type\":\"step_start\",\"lensId\":\"a\"}\n\n"))
	assert.Contains(t, body, "id: 2\nevent: chunk\n")
	assert.Equal(t, 1, strings.Count(body, "event: error"))
	assert.NotContains(t, body, "late")
	assert.True(t, w.Done())
}

type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Flush()              {}
func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, errors.New("connection reset by peer")
}

func TestSSEWriterDropsWritesAfterPeerGone(t *testing.T) {
	bw := &brokenWriter{header: http.Header{}}
	w, err := NewSSEWriter(bw)
	require.NoError(t, err)

	assert.NoError(t, w.Send(StepStart{LensID: "a"}))
	assert.NoError(t, w.Send(ErrorEvent{Message: "x"}))
	w.KeepAlive()
	assert.Equal(t, 1, bw.writes)
	assert.True(t, w.Done())
}

func TestWSWriterSendsOneFramePerEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		w := NewWSWriter(conn)
		_ = w.Send(StepStart{LensID: "a"})
		_ = w.Send(Complete{ReviewID: "r", Summary: "done", Issues: []model.ReviewIssue{}})
		_ = w.Send(Chunk{Content: "after terminal"})
		_ = w.Close()
		_ = w.Send(Chunk{Content: "after close"})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var types []Type
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
			break
		}
		ev, err := Decode(data)
		require.NoError(t, err)
		types = append(types, ev.Type())
	}
	assert.Equal(t, []Type{TypeStepStart, TypeComplete}, types)
}

// collectSink records events in memory.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	seqs   []int
}

func (c *collectSink) Send(e Event) error { return c.SendSeq(0, e) }
func (c *collectSink) SendSeq(seq int, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	c.seqs = append(c.seqs, seq)
	return nil
}
func (c *collectSink) Close() error { return nil }

func (c *collectSink) snapshot() ([]Event, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...), append([]int(nil), c.seqs...)
}

func TestRegistryReplayThenFollow(t *testing.T) {
	reg := NewRegistry(time.Minute, nil, zerolog.Nop())
	require.NoError(t, reg.Start("r1", nil))
	_, err := reg.Publish("r1", StepStart{LensID: "a"})
	require.NoError(t, err)

	sink := &collectSink{}
	done := make(chan error, 1)
	go func() { done <- reg.Subscribe(context.Background(), "r1", 0, sink) }()

	_, err = reg.Publish("r1", StepComplete{LensID: "a", IssueCount: 1})
	require.NoError(t, err)
	_, err = reg.Publish("r1", Complete{ReviewID: "r1", Summary: "1 issue"})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after terminal event")
	}
	events, seqs := sink.snapshot()
	assert.Equal(t, []int{1, 2, 3}, seqs)
	assert.Equal(t, TypeComplete, events[2].Type())

	_, err = reg.Publish("r1", Chunk{Content: "late"})
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestRegistryResumeFromSeq(t *testing.T) {
	reg := NewRegistry(time.Minute, nil, zerolog.Nop())
	require.NoError(t, reg.Start("r1", nil))
	for _, e := range []Event{StepStart{LensID: "a"}, Chunk{Content: "x"}, StepComplete{LensID: "a"}, Complete{}} {
		_, err := reg.Publish("r1", e)
		require.NoError(t, err)
	}

	sink := &collectSink{}
	require.NoError(t, reg.Subscribe(context.Background(), "r1", 2, sink))
	_, seqs := sink.snapshot()
	assert.Equal(t, []int{3, 4}, seqs)

	full := &collectSink{}
	require.NoError(t, reg.Subscribe(context.Background(), "r1", 0, full))
	events, _ := full.snapshot()
	assert.Len(t, events, 4)
}

func TestRegistrySubscriberDisconnectDoesNotCancelRun(t *testing.T) {
	cancelled := false
	reg := NewRegistry(time.Minute, nil, zerolog.Nop())
	require.NoError(t, reg.Start("r1", func() { cancelled = true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := reg.Subscribe(ctx, "r1", 0, &collectSink{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, cancelled)
	assert.True(t, reg.Active("r1"))

	assert.True(t, reg.Cancel("r1"))
	assert.True(t, cancelled)
}

func TestRegistryUnknownAndDuplicateRuns(t *testing.T) {
	reg := NewRegistry(time.Minute, nil, zerolog.Nop())
	assert.ErrorIs(t, reg.Subscribe(context.Background(), "nope", 0, &collectSink{}), ErrRunNotFound)
	_, err := reg.Publish("nope", Chunk{})
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, reg.Start("r1", nil))
	assert.ErrorIs(t, reg.Start("r1", nil), ErrRunExists)
	assert.False(t, reg.Cancel("nope"))
}

func TestRegistryPrune(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(time.Minute, nil, zerolog.Nop())
	reg.now = func() time.Time { return now }

	require.NoError(t, reg.Start("done", nil))
	require.NoError(t, reg.Start("active", nil))
	_, err := reg.Publish("done", Complete{})
	require.NoError(t, err)

	assert.Equal(t, 0, reg.Prune())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Prune())
	_, ok := reg.Events("done")
	assert.False(t, ok)
	assert.True(t, reg.Active("active"))
}

type memJournal struct {
	mu      sync.Mutex
	entries map[string][]StoredEvent
}

func (m *memJournal) Append(_ context.Context, runID string, seq int, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]StoredEvent)
	}
	m.entries[runID] = append(m.entries[runID], StoredEvent{Seq: seq, Data: data})
	return nil
}

func (m *memJournal) Load(_ context.Context, runID string) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[runID], nil
}

func TestRegistryReplaysJournalAfterRestart(t *testing.T) {
	j := &memJournal{}
	first := NewRegistry(time.Minute, j, zerolog.Nop())
	require.NoError(t, first.Start("r1", nil))
	_, _ = first.Publish("r1", StepStart{LensID: "a"})
	_, _ = first.Publish("r1", Complete{ReviewID: "r1", Summary: "done"})
	require.NoError(t, first.Start("r2", nil))
	_, _ = first.Publish("r2", StepStart{LensID: "a"})

	restarted := NewRegistry(time.Minute, j, zerolog.Nop())
	sink := &collectSink{}
	require.NoError(t, restarted.Subscribe(context.Background(), "r1", 0, sink))
	events, seqs := sink.snapshot()
	assert.Equal(t, []int{1, 2}, seqs)
	assert.Equal(t, Complete{ReviewID: "r1", Summary: "done"}, events[1])

	interrupted := &collectSink{}
	require.NoError(t, restarted.Subscribe(context.Background(), "r2", 0, interrupted))
	events, _ = interrupted.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, ErrorEvent{Code: "INTERRUPTED", Message: "run did not finish"}, events[1])
}
