package drilldown

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sprite-ai/lensrev/internal/model"
)

const (
	// maxInlineOutput is the longest single-line string kept verbatim.
	maxInlineOutput = 100
	maxKeyPreview   = 5
)

// Recorder keeps the ordered trace of tool calls made by one drilldown.
type Recorder struct {
	mu   sync.Mutex
	next int
	refs []model.TraceRef
	now  func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Record runs fn as the tool named tool and appends a TraceRef for it. The
// step number is taken when Record is called, so concurrent calls keep
// their call order even when they finish out of order.
func Record[T any](r *Recorder, tool, inputSummary string, fn func() (T, error)) (T, error) {
	r.mu.Lock()
	r.next++
	step := r.next
	r.mu.Unlock()

	v, err := fn()

	ref := model.TraceRef{
		Step:          step,
		Tool:          tool,
		InputSummary:  inputSummary,
		OutputSummary: summarizeOutput(v, err),
	}
	r.mu.Lock()
	ref.Timestamp = r.now().UTC()
	r.refs = append(r.refs, ref)
	r.mu.Unlock()
	return v, err
}

// Trace returns the recorded calls ordered by step.
func (r *Recorder) Trace() []model.TraceRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]model.TraceRef(nil), r.refs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// Reset clears the trace and restarts step numbering.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.refs = nil
}

// summarizeOutput describes a tool result without copying it into the trace.
func summarizeOutput(v any, err error) string {
	if err != nil {
		return truncate("error: "+err.Error(), maxInlineOutput)
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return summarizeString(x)
	case []byte:
		return summarizeString(string(x))
	case fmt.Stringer:
		return summarizeString(x.String())
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", rv.Len())
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		sort.Strings(keys)
		return keyPreview(keys)
	case reflect.Struct:
		var keys []string
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
				name = tag
			}
			keys = append(keys, name)
		}
		return keyPreview(keys)
	case reflect.String:
		return summarizeString(rv.String())
	default:
		return truncate(fmt.Sprint(rv.Interface()), maxInlineOutput)
	}
}

func summarizeString(s string) string {
	if len(s) <= maxInlineOutput && !strings.Contains(s, "\n") {
		return s
	}
	lines := strings.Count(s, "\n") + 1
	if strings.HasSuffix(s, "\n") {
		lines--
	}
	return fmt.Sprintf("%d chars, %d lines", len(s), lines)
}

func keyPreview(keys []string) string {
	if len(keys) == 0 {
		return "{}"
	}
	shown := keys
	if len(shown) > maxKeyPreview {
		shown = shown[:maxKeyPreview]
	}
	s := "{" + strings.Join(shown, ", ")
	if len(keys) > maxKeyPreview {
		s += ", ..."
	}
	return s + fmt.Sprintf("} (%d keys)", len(keys))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
