// Package review turns a review request into an orchestration run: it
// obtains and parses the diff, runs the selected lenses in the background,
// streams progress through the run registry and saves the outcome.
package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/lens"
	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/store"
	"github.com/sprite-ai/lensrev/internal/stream"
)

// Diff sources for Request.Mode.
const (
	ModeStaged   = "staged"
	ModeUnstaged = "unstaged"
	ModeHead     = "head"
	ModeRange    = "range"
	ModeText     = "text"
)

// Request starts one review.
type Request struct {
	ProjectPath string `json:"projectPath"`
	// Diff, when set, is reviewed instead of asking git.
	Diff           string           `json:"diff,omitempty"`
	Mode           string           `json:"mode,omitempty"`
	Range          string           `json:"range,omitempty"`
	Profile        string           `json:"profile,omitempty"`
	Lenses         []string         `json:"lenses,omitempty"`
	ProjectContext string           `json:"projectContext,omitempty"`
	Kind           model.ReviewKind `json:"kind,omitempty"`
}

// Code classifies a rejected request.
type Code string

const (
	CodeInvalid   Code = "INVALID_REQUEST"
	CodeBusy      Code = "BUSY"
	CodeEmptyDiff Code = "EMPTY_DIFF"
	CodeTooLarge  Code = "DIFF_TOO_LARGE"
	CodeGit       Code = "GIT_ERROR"
	CodeParse     Code = "PARSE_ERROR"
	CodeNoLenses  Code = "LENS_ERROR"
)

// Error is returned by Start when a run cannot begin.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func reqErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Options holds the service-wide defaults.
type Options struct {
	Concurrency        int
	PartialOnAllFailed bool
	LensTimeout        time.Duration
	DefaultProfile     string
	MaxDiffBytes       int
	ContextLines       int
}

// Service runs reviews. At most one run per project path is active.
type Service struct {
	opts     Options
	client   ai.Client
	stores   *store.Stores
	registry *stream.Registry
	log      zerolog.Logger

	mu      sync.Mutex
	active  map[string]string // project root -> run id
	running map[string]bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a service. client may be nil; only static lenses can run then.
func New(opts Options, client ai.Client, stores *store.Stores, registry *stream.Registry, log zerolog.Logger) *Service {
	if opts.ContextLines <= 0 {
		opts.ContextLines = 3
	}
	return &Service{
		opts:     opts,
		client:   client,
		stores:   stores,
		registry: registry,
		log:      log,
		active:   make(map[string]string),
		running:  make(map[string]bool),
		now:      time.Now,
	}
}

// Registry returns the run registry events are published to.
func (s *Service) Registry() *stream.Registry { return s.registry }

type plan struct {
	id          string
	root        string
	raw         string
	parsed      *diff.ParsedDiff
	lenses      []lens.Lens
	lensIDs     []string
	profile     string
	minSeverity model.Severity
	projectCtx  string
	mode        string
	kind        model.ReviewKind
	git         *model.GitContext
}

// Start validates req, registers a run and launches it in the background.
// The run does not stop when ctx ends; use Cancel. The returned id names
// both the run and the review it will save.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if other, busy := s.active[p.root]; busy && p.root != "" {
		s.mu.Unlock()
		return "", reqErr(CodeBusy, "a review of %s is already running (%s)", p.root, other)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.registry.Start(p.id, cancel); err != nil {
		s.mu.Unlock()
		cancel()
		return "", err
	}
	if p.root != "" {
		s.active[p.root] = p.id
	}
	s.running[p.id] = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Str("review", p.id).Str("project", p.root).Strs("lenses", p.lensIDs).Int("files", len(p.parsed.Files)).Msg("review started")
	go s.run(runCtx, cancel, p)
	return p.id, nil
}

func (s *Service) prepare(ctx context.Context, req Request) (*plan, error) {
	p := &plan{id: uuid.NewString(), kind: req.Kind, mode: req.Mode}
	if p.kind == "" {
		p.kind = model.KindTriage
	}
	if _, err := s.stores.ReviewStore(p.kind); err != nil {
		return nil, &Error{Code: CodeInvalid, Err: err}
	}

	if req.ProjectPath != "" {
		abs, err := filepath.Abs(req.ProjectPath)
		if err != nil {
			return nil, reqErr(CodeInvalid, "project path: %v", err)
		}
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			return nil, reqErr(CodeInvalid, "project path %s is not a directory", abs)
		}
		p.root = abs
	}

	raw, err := s.diffText(ctx, req, p)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxDiffBytes > 0 && len(raw) > s.opts.MaxDiffBytes {
		return nil, reqErr(CodeTooLarge, "diff is %d bytes, limit is %d", len(raw), s.opts.MaxDiffBytes)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, reqErr(CodeEmptyDiff, "no changes to review")
	}
	pd, err := diff.Parse(raw)
	if err != nil {
		return nil, &Error{Code: CodeParse, Err: err}
	}
	if pd.Empty() {
		return nil, reqErr(CodeEmptyDiff, "diff contains no files")
	}
	p.raw, p.parsed = raw, pd

	if err := s.selectLenses(req, p); err != nil {
		return nil, err
	}

	p.projectCtx = req.ProjectContext
	if p.projectCtx == "" && p.root != "" {
		p.projectCtx = loadProjectContext(p.root)
	}
	if p.root != "" && p.mode != ModeText {
		info := diff.Info(ctx, p.root)
		p.git = &model.GitContext{Branch: info.Branch, Commit: info.Commit, Mode: p.mode, Range: req.Range, Files: pd.Paths()}
	}
	return p, nil
}

func (s *Service) diffText(ctx context.Context, req Request, p *plan) (string, error) {
	if req.Diff != "" {
		p.mode = ModeText
		return req.Diff, nil
	}
	if p.root == "" {
		return "", reqErr(CodeInvalid, "either diff or projectPath is required")
	}
	if p.mode == "" {
		p.mode = ModeStaged
	}

	var (
		raw string
		err error
	)
	switch p.mode {
	case ModeStaged:
		raw, err = diff.GitDiffStaged(ctx, p.root, s.opts.ContextLines)
	case ModeUnstaged:
		raw, err = diff.GitDiffUnstaged(ctx, p.root, s.opts.ContextLines)
	case ModeHead:
		raw, err = diff.GitDiffHead(ctx, p.root, s.opts.ContextLines)
	case ModeRange:
		if req.Range == "" {
			return "", reqErr(CodeInvalid, "range mode needs a range")
		}
		raw, err = diff.GitDiffRange(ctx, p.root, req.Range, s.opts.ContextLines)
	default:
		return "", reqErr(CodeInvalid, "unknown mode %q", p.mode)
	}
	if err != nil {
		return "", &Error{Code: CodeGit, Err: err}
	}
	return raw, nil
}

func (s *Service) selectLenses(req Request, p *plan) error {
	name := req.Profile
	if name == "" {
		name = s.opts.DefaultProfile
	}
	ids := req.Lenses
	if len(ids) == 0 || req.Profile != "" {
		prof, err := lens.LookupProfile(name)
		if err != nil {
			return &Error{Code: CodeInvalid, Err: err}
		}
		p.profile = prof.Name
		p.minSeverity = prof.MinSeverity
		if len(ids) == 0 {
			ids = prof.Lenses
		}
	}

	lenses, err := lens.Resolve(ids, s.client)
	if err != nil {
		return &Error{Code: CodeNoLenses, Err: err}
	}
	p.lenses = lenses
	for _, l := range lenses {
		p.lensIDs = append(p.lensIDs, l.ID())
	}
	return nil
}

func (s *Service) run(ctx context.Context, cancel context.CancelFunc, p *plan) {
	defer s.wg.Done()
	defer cancel()
	defer s.release(p.root, p.id)

	publish := func(e stream.Event) {
		if _, err := s.registry.Publish(p.id, e); err != nil {
			s.log.Warn().Err(err).Str("review", p.id).Msg("publish failed")
		}
	}

	out, err := lens.Orchestrate(ctx, p.parsed, p.lenses, lens.Options{
		Concurrency:        s.opts.Concurrency,
		PartialOnAllFailed: s.opts.PartialOnAllFailed,
		ProjectContext:     p.projectCtx,
		Root:               p.root,
		Timeout:            s.opts.LensTimeout,
		MinSeverity:        p.minSeverity,
		Emit:               func(e lens.Event) { publish(stream.FromLens(e)) },
		Logger:             s.log.With().Str("review", p.id).Logger(),
	})
	if err != nil {
		code := string(lens.CodeLens)
		var oe *lens.OrchestrationError
		if errors.As(err, &oe) {
			code = string(oe.Code)
		}
		s.log.Warn().Err(err).Str("review", p.id).Str("code", code).Msg("review failed")
		publish(stream.ErrorEvent{Message: err.Error(), Code: code})
		return
	}

	saved := s.buildSaved(p, out)
	rs, _ := s.stores.ReviewStore(p.kind)
	if err := rs.Write(p.id, saved); err != nil {
		s.log.Error().Err(err).Str("review", p.id).Msg("saving review")
		publish(stream.ErrorEvent{Message: "saving review: " + err.Error(), Code: "STORE_ERROR"})
		return
	}

	s.log.Info().Str("review", p.id).Int("issues", len(out.Issues)).Int("failed", len(out.FailedLenses)).Msg("review complete")
	publish(stream.CompleteFrom(p.id, out))
}

func (s *Service) buildSaved(p *plan, out *model.OrchestrationOutcome) *model.SavedReview {
	now := s.now().UTC()
	counts := model.CountSeverities(out.Issues)
	return &model.SavedReview{
		Metadata: model.ReviewMetadata{
			ID:           p.id,
			ProjectPath:  p.root,
			Mode:         p.mode,
			Profile:      p.profile,
			Lenses:       p.lensIDs,
			CreatedAt:    now,
			UpdatedAt:    now,
			IssueCount:   len(out.Issues),
			Counts:       counts,
			Score:        model.Score(counts),
			FailedLenses: len(out.FailedLenses),
		},
		Result:     *out,
		GitContext: p.git,
		Diff:       p.raw,
	}
}

func (s *Service) release(root, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
	if root != "" && s.active[root] == id {
		delete(s.active, root)
	}
}

// Cancel stops a running review. It reports whether one was running.
func (s *Service) Cancel(id string) bool {
	return s.registry.Cancel(id)
}

// Wait blocks until every started run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels active runs and waits for them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.registry.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// projectContextFiles are read, in order, to describe the project to lenses.
var projectContextFiles = []string{"AGENTS.md", "CLAUDE.md", "README.md"}

const maxProjectContext = 4000

func loadProjectContext(root string) string {
	for _, name := range projectContextFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if len(text) > maxProjectContext {
			text = text[:maxProjectContext]
		}
		if text != "" {
			return name + ":\n" + text
		}
	}
	return ""
}
