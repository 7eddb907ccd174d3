package lens

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/model"
)

var aiFocus = map[string]string{
	"correctness": `You are a strict, expert code reviewer focused on correctness. Look for logic errors, off-by-one mistakes, nil or null dereferences, unhandled errors, broken invariants, race conditions and behavior that does not match the apparent intent of the change.`,
	"security":    `You are an application security reviewer. Look for injection (SQL, shell, template), missing authentication or authorization checks, unsafe deserialization, path traversal, secrets committed to code, weak cryptography and unsafe handling of untrusted input.`,
	"performance": `You are a performance-focused code reviewer. Look for accidental quadratic work, repeated I/O or queries inside loops, unbounded memory growth, missing pagination, blocking calls on hot paths and needless allocations. Ignore micro-optimizations that do not matter.`,
	"simplicity":  `You are a reviewer who values simple, maintainable code. Look for needless abstraction, duplicated logic, dead code, confusing names and functions that do too much. Only report problems that make the code meaningfully harder to understand or change.`,
	"tests":       `You are a reviewer focused on testing. Look for changed behavior without tests, tests that cannot fail, missing edge cases, brittle timing-dependent tests and assertions that do not check the property under test.`,
}

// AIOrder lists the AI lenses in their canonical order.
var AIOrder = []string{"correctness", "security", "performance", "simplicity", "tests"}

var staticPasses = map[string][]string{
	"static-security": {"security", "schema"},
	"static-hygiene":  {"anti_patterns"},
	"static-impact":   {"deps", "deleted", "blast_radius"},
}

// StaticOrder lists the static lenses in their canonical order.
var StaticOrder = []string{"static-security", "static-hygiene", "static-impact"}

// IDs returns every built-in lens id, AI lenses first.
func IDs() []string {
	return append(append([]string{}, AIOrder...), StaticOrder...)
}

// New returns the built-in lens with the given id. AI lenses fail with
// ai.ErrNoProvider when client is nil.
func New(id string, client ai.Client) (Lens, error) {
	if focus, ok := aiFocus[id]; ok {
		if client == nil {
			return nil, fmt.Errorf("lens %q: %w", id, ai.ErrNoProvider)
		}
		return NewAI(id, focus, client), nil
	}
	if passes, ok := staticPasses[id]; ok {
		return NewStatic(id, passes...), nil
	}
	return nil, fmt.Errorf("unknown lens %q", id)
}

// Resolve builds the lenses for ids, keeping their order and dropping duplicates.
func Resolve(ids []string, client ai.Client) ([]Lens, error) {
	seen := make(map[string]bool)
	var lenses []Lens
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		l, err := New(id, client)
		if err != nil {
			return nil, err
		}
		lenses = append(lenses, l)
	}
	if len(lenses) == 0 {
		return nil, fmt.Errorf("no lenses selected")
	}
	return lenses, nil
}

// Profile is a named preset of lenses and a minimum severity.
type Profile struct {
	Name        string         `json:"name"`
	Lenses      []string       `json:"lenses"`
	MinSeverity model.Severity `json:"minSeverity"`
}

var profiles = map[string]Profile{
	"quick":    {Name: "quick", Lenses: []string{"correctness"}, MinSeverity: model.SeverityLow},
	"strict":   {Name: "strict", Lenses: AIOrder, MinSeverity: model.SeverityNit},
	"perf":     {Name: "perf", Lenses: []string{"performance"}, MinSeverity: model.SeverityMedium},
	"security": {Name: "security", Lenses: []string{"security", "static-security"}, MinSeverity: model.SeverityLow},
	"static":   {Name: "static", Lenses: StaticOrder, MinSeverity: model.SeverityNit},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Profiles returns all profiles sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
