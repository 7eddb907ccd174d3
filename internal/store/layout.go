package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sprite-ai/lensrev/internal/model"
)

// Directory names under the data dir.
const (
	ReviewsDir  = "reviews"
	TriageDir   = "triage-reviews"
	SessionsDir = "sessions"
)

// Stores groups the entity stores of one data directory.
type Stores struct {
	Reviews  *FileStore[model.SavedReview]
	Triage   *FileStore[model.SavedReview]
	Sessions *FileStore[model.Session]
}

// Open creates the data directory layout and returns its stores.
func Open(dataDir string) (*Stores, error) {
	for _, d := range []string{ReviewsDir, TriageDir, SessionsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	reviewOpts := Options[model.SavedReview]{
		SortKey: func(r *model.SavedReview) time.Time { return r.Metadata.CreatedAt },
		IDOf:    func(r *model.SavedReview) string { return r.Metadata.ID },
	}
	return &Stores{
		Reviews: New(filepath.Join(dataDir, ReviewsDir), reviewOpts),
		Triage:  New(filepath.Join(dataDir, TriageDir), reviewOpts),
		Sessions: New(filepath.Join(dataDir, SessionsDir), Options[model.Session]{
			SortKey: func(s *model.Session) time.Time { return s.Metadata.UpdatedAt },
			IDOf:    func(s *model.Session) string { return s.Metadata.ID },
		}),
	}, nil
}

// ReviewStore returns the store holding reviews of the given kind.
func (s *Stores) ReviewStore(kind model.ReviewKind) (*FileStore[model.SavedReview], error) {
	switch kind {
	case model.KindReview:
		return s.Reviews, nil
	case model.KindTriage, "":
		return s.Triage, nil
	default:
		return nil, &Error{Code: CodeValidation, Op: "open", Err: fmt.Errorf("unknown review kind %q", kind)}
	}
}
