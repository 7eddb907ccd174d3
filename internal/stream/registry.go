package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already registered")
	ErrRunFinished = errors.New("run already finished")
)

// Record is a published event with its 1-based sequence number.
type Record struct {
	Seq   int
	Event Event
}

// StoredEvent is a journaled event payload.
type StoredEvent struct {
	Seq  int
	Data []byte
}

// Journal persists published events so finished runs can be replayed after
// a restart.
type Journal interface {
	Append(ctx context.Context, runID string, seq int, typ string, data []byte) error
	Load(ctx context.Context, runID string) ([]StoredEvent, error)
}

// SeqSink is implemented by sinks that can label events with their sequence
// number.
type SeqSink interface {
	SendSeq(seq int, e Event) error
}

type run struct {
	mu     sync.Mutex
	events []Record
	done   bool
	doneAt time.Time
	cancel context.CancelFunc
	notify chan struct{}
}

// Registry buffers the events of every run by id. A subscriber replays the
// buffer and then follows live events until the terminal one.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*run
	retention time.Duration
	journal   Journal
	log       zerolog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry keeping finished runs for retention.
// journal may be nil.
func NewRegistry(retention time.Duration, journal Journal, log zerolog.Logger) *Registry {
	return &Registry{
		runs:      make(map[string]*run),
		retention: retention,
		journal:   journal,
		log:       log,
		now:       time.Now,
	}
}

// Start registers a new run. cancel is invoked by Cancel and may be nil.
func (r *Registry) Start(id string, cancel context.CancelFunc) error {
	r.Prune()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, id)
	}
	r.runs[id] = &run{cancel: cancel, notify: make(chan struct{})}
	return nil
}

func (r *Registry) get(id string) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ru, ok := r.runs[id]
	return ru, ok
}

// Publish appends e to the run and wakes subscribers. Events published after
// the terminal event are rejected with ErrRunFinished.
func (r *Registry) Publish(id string, e Event) (int, error) {
	ru, ok := r.get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	ru.mu.Lock()
	defer ru.mu.Unlock()
	if ru.done {
		return 0, ErrRunFinished
	}
	seq := len(ru.events) + 1
	ru.events = append(ru.events, Record{Seq: seq, Event: e})
	if IsTerminal(e) {
		ru.done = true
		ru.doneAt = r.now()
		ru.cancel = nil
	}
	close(ru.notify)
	ru.notify = make(chan struct{})

	if r.journal != nil {
		if data, err := json.Marshal(e); err != nil {
			r.log.Warn().Err(err).Str("run", id).Msg("marshal event for journal")
		} else if err := r.journal.Append(context.Background(), id, seq, string(e.Type()), data); err != nil {
			r.log.Warn().Err(err).Str("run", id).Int("seq", seq).Msg("journal append failed")
		}
	}
	return seq, nil
}

// Cancel cancels an active run. It reports whether a run was cancelled.
func (r *Registry) Cancel(id string) bool {
	ru, ok := r.get(id)
	if !ok {
		return false
	}
	ru.mu.Lock()
	cancel := ru.cancel
	ru.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Active reports whether the run exists and has not finished.
func (r *Registry) Active(id string) bool {
	ru, ok := r.get(id)
	if !ok {
		return false
	}
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return !ru.done
}

// Events returns a snapshot of the buffered events of a run.
func (r *Registry) Events(id string) ([]Record, bool) {
	ru, ok := r.get(id)
	if !ok {
		return nil, false
	}
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return append([]Record(nil), ru.events...), true
}

// Subscribe sends every event with a sequence number greater than after to
// sink, then follows live events until the terminal event has been sent.
// Runs no longer in memory are replayed from the journal. Cancelling ctx
// ends the subscription only; the run keeps going.
func (r *Registry) Subscribe(ctx context.Context, id string, after int, sink Sink) error {
	ru, ok := r.get(id)
	if !ok {
		return r.replayJournal(ctx, id, after, sink)
	}

	next := max(after, 0)
	for {
		ru.mu.Lock()
		var pending []Record
		if next < len(ru.events) {
			pending = ru.events[next:]
		}
		done := ru.done
		notify := ru.notify
		ru.mu.Unlock()

		for _, rec := range pending {
			if err := send(sink, rec); err != nil {
				return err
			}
			next = rec.Seq
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (r *Registry) replayJournal(ctx context.Context, id string, after int, sink Sink) error {
	if r.journal == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	stored, err := r.journal.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("loading journal for %s: %w", id, err)
	}
	if len(stored) == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	terminal := false
	for _, s := range stored {
		ev, err := Decode(s.Data)
		if err != nil {
			r.log.Warn().Err(err).Str("run", id).Int("seq", s.Seq).Msg("skipping undecodable journal entry")
			continue
		}
		terminal = IsTerminal(ev)
		if s.Seq <= after {
			continue
		}
		if err := send(sink, Record{Seq: s.Seq, Event: ev}); err != nil {
			return err
		}
	}
	if !terminal {
		// The process stopped before the run finished.
		last := stored[len(stored)-1].Seq
		return send(sink, Record{Seq: last + 1, Event: ErrorEvent{Code: "INTERRUPTED", Message: "run did not finish"}})
	}
	return nil
}

func send(sink Sink, rec Record) error {
	if s, ok := sink.(SeqSink); ok {
		return s.SendSeq(rec.Seq, rec.Event)
	}
	return sink.Send(rec.Event)
}

// Prune drops finished runs older than the retention period and returns how
// many were removed.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ru := range r.runs {
		ru.mu.Lock()
		expired := ru.done && ru.doneAt.Before(cutoff)
		ru.mu.Unlock()
		if expired {
			delete(r.runs, id)
			n++
		}
	}
	return n
}

// Janitor prunes periodically until ctx is done.
func (r *Registry) Janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Prune(); n > 0 {
				r.log.Debug().Int("runs", n).Msg("pruned finished runs")
			}
		}
	}
}
