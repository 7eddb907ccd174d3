// Package store persists JSON entities as one file per UUID under a
// directory, with atomic writes and schema validation on both read and write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Code classifies a store failure.
type Code string

const (
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VALIDATION_ERROR"
	CodePermission Code = "PERMISSION_ERROR"
	CodeIO         Code = "IO_ERROR"
)

// HTTPStatus maps a code onto the status an HTTP binding should return.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodePermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every FileStore operation that fails.
type Error struct {
	Code Code
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %s: %v", e.Op, e.ID, e.Code, e.Err)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the store code from err, or "" if err is not a store error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND store error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// Warning describes an entry List skipped.
type Warning struct {
	File    string `json:"file"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

// ValidateID accepts only canonical lowercase UUIDs, so an id can be placed
// into a file path without further escaping.
func ValidateID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}
	if len(id) != 36 || parsed.String() != id {
		return fmt.Errorf("invalid id %q: not a canonical uuid", id)
	}
	return nil
}

// Options configures a FileStore.
type Options[T any] struct {
	// SortKey orders List results, newest first. Optional.
	SortKey func(*T) time.Time
	// IDOf returns the id embedded in an entity. When set, Read rejects
	// files whose embedded id differs from their file name.
	IDOf func(*T) string
}

// FileStore stores values of T as <dir>/<uuid>.json.
type FileStore[T any] struct {
	dir  string
	opts Options[T]
}

// New returns a store rooted at dir. The directory is created on first write.
func New[T any](dir string, opts Options[T]) *FileStore[T] {
	return &FileStore[T]{dir: dir, opts: opts}
}

// Dir returns the directory holding the entity files.
func (s *FileStore[T]) Dir() string { return s.dir }

func (s *FileStore[T]) path(op, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", &Error{Code: CodeValidation, Op: op, ID: id, Err: err}
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Read loads and validates the entity stored under id.
func (s *FileStore[T]) Read(id string) (*T, error) {
	p, err := s.path("read", id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, ioError("read", id, err)
	}
	v, err := s.decode(id, data)
	if err != nil {
		return nil, &Error{Code: CodeValidation, Op: "read", ID: id, Err: err}
	}
	return v, nil
}

func (s *FileStore[T]) decode(id string, data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, err
	}
	if s.opts.IDOf != nil {
		if got := s.opts.IDOf(&v); got != id {
			return nil, fmt.Errorf("embedded id %q does not match %q", got, id)
		}
	}
	return &v, nil
}

// renameFile is swapped in tests to simulate a crash before the rename.
var renameFile = os.Rename

// Write validates v and atomically replaces the entity stored under id.
// A non-UUID id is rejected before any file is touched.
func (s *FileStore[T]) Write(id string, v *T) error {
	p, err := s.path("write", id)
	if err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return &Error{Code: CodeValidation, Op: "write", ID: id, Err: err}
	}
	if s.opts.IDOf != nil {
		if got := s.opts.IDOf(v); got != id {
			return &Error{Code: CodeValidation, Op: "write", ID: id, Err: fmt.Errorf("embedded id %q does not match", got)}
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Code: CodeValidation, Op: "write", ID: id, Err: err}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return ioError("write", id, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return ioError("write", id, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioError("write", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioError("write", id, err)
	}
	if err := tmp.Close(); err != nil {
		return ioError("write", id, err)
	}
	if err := renameFile(tmp.Name(), p); err != nil {
		return ioError("write", id, err)
	}
	return nil
}

// Remove deletes the entity stored under id.
func (s *FileStore[T]) Remove(id string) error {
	p, err := s.path("remove", id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return ioError("remove", id, err)
	}
	return nil
}

// Exists reports whether an entity is stored under id.
func (s *FileStore[T]) Exists(id string) bool {
	p, err := s.path("stat", id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List returns every valid entity. Unreadable or invalid files are skipped
// and reported as warnings. A missing directory is an empty store.
func (s *FileStore[T]) List() ([]T, []Warning, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []T{}, nil, nil
		}
		return nil, nil, ioError("list", "", err)
	}

	items := []T{}
	var warnings []Warning
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if err := ValidateID(id); err != nil {
			warnings = append(warnings, Warning{File: name, Code: CodeValidation, Message: err.Error()})
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			se := ioError("list", id, err)
			warnings = append(warnings, Warning{File: name, Code: se.Code, Message: err.Error()})
			continue
		}
		v, err := s.decode(id, data)
		if err != nil {
			warnings = append(warnings, Warning{File: name, Code: CodeValidation, Message: err.Error()})
			continue
		}
		items = append(items, *v)
	}

	if s.opts.SortKey != nil {
		sort.SliceStable(items, func(i, j int) bool {
			return s.opts.SortKey(&items[i]).After(s.opts.SortKey(&items[j]))
		})
	}
	return items, warnings, nil
}

func ioError(op, id string, err error) *Error {
	code := CodeIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = CodeNotFound
	case errors.Is(err, fs.ErrPermission):
		code = CodePermission
	}
	return &Error{Code: code, Op: op, ID: id, Err: err}
}
