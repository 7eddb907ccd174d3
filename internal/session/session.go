// Package session manages append-only conversation logs.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/store"
)

// Service creates and appends to sessions.
type Service struct {
	store *store.FileStore[model.Session]
	// mu serializes read-modify-write cycles on the same process.
	mu  sync.Mutex
	now func() time.Time
}

func New(s *store.FileStore[model.Session]) *Service {
	return &Service{store: s, now: time.Now}
}

// Create starts an empty session.
func (s *Service) Create(projectPath, title string) (*model.Session, error) {
	now := s.now().UTC()
	if strings.TrimSpace(title) == "" {
		title = "Untitled session"
	}
	sess := &model.Session{
		Metadata: model.SessionMetadata{
			ID:          uuid.NewString(),
			ProjectPath: projectPath,
			Title:       strings.TrimSpace(title),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Messages: []model.SessionMessage{},
	}
	if err := s.store.Write(sess.Metadata.ID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Get(id string) (*model.Session, error) {
	return s.store.Read(id)
}

// List returns session headers, newest first, plus warnings for entries
// that could not be read.
func (s *Service) List() ([]model.SessionMetadata, []store.Warning, error) {
	all, warnings, err := s.store.List()
	if err != nil {
		return nil, nil, err
	}
	out := make([]model.SessionMetadata, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.Metadata)
	}
	return out, warnings, nil
}

// AddMessage appends a message and returns the updated session.
func (s *Service) AddMessage(id, role, content string) (*model.Session, error) {
	switch role {
	case "user", "assistant", "system":
	default:
		return nil, &store.Error{Code: store.CodeValidation, Op: "append", ID: id, Err: fmt.Errorf("invalid role %q", role)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.store.Read(id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess.Messages = append(sess.Messages, model.SessionMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	sess.Metadata.MessageCount = len(sess.Messages)
	sess.Metadata.UpdatedAt = now
	if err := s.store.Write(id, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Delete(id string) error {
	return s.store.Remove(id)
}
