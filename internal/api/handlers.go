package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/drilldown"
	"github.com/sprite-ai/lensrev/internal/lens"
	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/store"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Providers ---

type providersResponse struct {
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Configured  bool           `json:"configured"`
	Models      []string       `json:"models,omitempty"`
	ModelsError string         `json:"modelsError,omitempty"`
	Lenses      []string       `json:"lenses"`
	Profiles    []lens.Profile `json:"profiles"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	resp := providersResponse{
		Provider:   s.opts.Provider,
		Model:      s.opts.Model,
		Configured: s.client != nil,
		Lenses:     lens.IDs(),
		Profiles:   lens.Profiles(),
	}
	if lister, ok := s.client.(ai.ModelLister); ok {
		if r.URL.Query().Get("refresh") == "true" {
			s.models.Delete(s.opts.Provider)
		}
		models, err := s.models.GetOrLoad(r.Context(), s.opts.Provider, lister.ListModels)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", s.opts.Provider).Msg("listing models")
			resp.ModelsError = err.Error()
		}
		resp.Models = models
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Parse ---

type parseRequest struct {
	Diff string `json:"diff"`
}

type parseResponse struct {
	Files      []fileJSON        `json:"files"`
	TotalStats diff.Stats        `json:"totalStats"`
	Warnings   []diff.ParseError `json:"warnings,omitempty"`
}

type fileJSON struct {
	Path         string         `json:"path"`
	PreviousPath string         `json:"previousPath,omitempty"`
	Operation    diff.Operation `json:"operation"`
	Language     string         `json:"language,omitempty"`
	Binary       bool           `json:"binary,omitempty"`
	Hunks        int            `json:"hunks"`
	Stats        diff.Stats     `json:"stats"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}

	if req.Diff == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "diff is required")
		return
	}

	pd, err := diff.Parse(req.Diff)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	resp := parseResponse{
		Files:      make([]fileJSON, 0, len(pd.Files)),
		TotalStats: pd.TotalStats,
		Warnings:   pd.Warnings,
	}
	for _, f := range pd.Files {
		resp.Files = append(resp.Files, fileJSON{
			Path:         f.Path,
			PreviousPath: f.PreviousPath,
			Operation:    f.Operation,
			Language:     f.Language,
			Binary:       f.Binary,
			Hunks:        len(f.Hunks),
			Stats:        f.Stats,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// --- Apply ---

type applyRequest struct {
	ProjectPath string `json:"projectPath"`
	Diff        string `json:"diff"`
	// Path selects one file of a multi-file diff.
	Path string `json:"path,omitempty"`
}

type applyResponse struct {
	Path    string           `json:"path"`
	Status  diff.ApplyStatus `json:"status"`
	Deleted bool             `json:"deleted,omitempty"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	if req.ProjectPath == "" || req.Diff == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "projectPath and diff are required")
		return
	}
	root, err := filepath.Abs(req.ProjectPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "projectPath is not a directory")
		return
	}

	pd, err := diff.Parse(req.Diff)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	var f *diff.FileDiff
	switch {
	case req.Path != "":
		var ok bool
		if f, ok = pd.File(req.Path); !ok {
			s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "diff does not touch "+req.Path)
			return
		}
	case len(pd.Files) == 1:
		f = &pd.Files[0]
	default:
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "diff touches several files; set path")
		return
	}

	res, err := diff.ApplyFile(root, f, diff.ApplyOptions{FuzzWindow: s.opts.FuzzWindow})
	if err != nil {
		var pe *diff.PatchError
		if errors.As(err, &pe) {
			status := http.StatusConflict
			if pe.Code == diff.CodeFileNotFound {
				status = http.StatusNotFound
			}
			s.writeError(w, status, string(pe.Code), pe.Error())
			return
		}
		s.log.Error().Err(err).Str("path", f.Path).Msg("applying patch")
		s.writeError(w, http.StatusInternalServerError, "IO_ERROR", err.Error())
		return
	}
	s.log.Info().Str("project", root).Str("path", f.Path).Str("status", string(res.Status)).Msg("patch applied")
	s.writeJSON(w, http.StatusOK, applyResponse{Path: f.Path, Status: res.Status, Deleted: res.Deleted})
}

// --- Reviews ---

type reviewListResponse struct {
	Reviews  []model.ReviewMetadata `json:"reviews"`
	Warnings []store.Warning        `json:"warnings,omitempty"`
}

func (s *Server) handleListReviews(kind model.ReviewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := s.stores.ReviewStore(kind)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		all, warnings, err := rs.List()
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		resp := reviewListResponse{Reviews: make([]model.ReviewMetadata, 0, len(all)), Warnings: warnings}
		for _, rv := range all {
			resp.Reviews = append(resp.Reviews, rv.Metadata)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleGetReview(kind model.ReviewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := s.stores.ReviewStore(kind)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		rv, err := rs.Read(r.PathValue("id"))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rv)
	}
}

// handleReviewExists answers HEAD without reading the review body.
func (s *Server) handleReviewExists(kind model.ReviewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := s.stores.ReviewStore(kind)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !rs.Exists(r.PathValue("id")) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleDeleteReview(kind model.ReviewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := s.stores.ReviewStore(kind)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if err := rs.Remove(r.PathValue("id")); err != nil {
			s.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Drilldown ---

type drilldownRequest struct {
	IssueID string `json:"issueId"`
}

type drilldownResponse struct {
	Drilldown *model.DrilldownResult `json:"drilldown"`
}

func (s *Server) handleDrilldown(kind model.ReviewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req drilldownRequest
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
			return
		}
		if req.IssueID == "" {
			s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "issueId is required")
			return
		}

		res, err := s.drill.Drilldown(r.Context(), kind, r.PathValue("id"), req.IssueID, nil)
		if err != nil {
			s.writeDrilldownError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, drilldownResponse{Drilldown: res})
	}
}

func (s *Server) writeDrilldownError(w http.ResponseWriter, err error) {
	var de *drilldown.Error
	if !errors.As(err, &de) {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch de.Code {
	case drilldown.CodeIssueNotFound, drilldown.CodeReviewNotFound:
		status = http.StatusNotFound
	case drilldown.CodeAI:
		status = http.StatusBadGateway
	case drilldown.CodeStore:
		if c := store.CodeOf(err); c != "" {
			status = c.HTTPStatus()
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("drilldown failed")
	}
	s.writeError(w, status, string(de.Code), de.Error())
}

// --- Sessions ---

type createSessionRequest struct {
	ProjectPath string `json:"projectPath"`
	Title       string `json:"title"`
}

type sessionListResponse struct {
	Sessions []model.SessionMetadata `json:"sessions"`
	Warnings []store.Warning         `json:"warnings,omitempty"`
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, warnings, err := s.sessions.List()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionListResponse{Sessions: list, Warnings: warnings})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	sess, err := s.sessions.Create(req.ProjectPath, req.Title)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	sess, err := s.sessions.AddMessage(r.PathValue("id"), req.Role, req.Content)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}
