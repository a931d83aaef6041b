package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"charachat/internal/usertoken"
	"charachat/internal/util"
	"charachat/pkg/domain"
	"charachat/services/ingest/internal/app"
)

const maxUploadBytes = 32 << 20

// SubjectVerifier resolves a bearer token to a user id.
type SubjectVerifier interface {
	VerifySubject(token string) (string, error)
}

// RateLimiter gates requests per caller.
type RateLimiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier SubjectVerifier
	Limiter  RateLimiter
}

// Server exposes the ingestion endpoints.
type Server struct {
	app      *app.App
	verifier SubjectVerifier
	limiter  RateLimiter
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:      cfg.App,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/knowledge-bases/", s.withUser(s.handleKnowledgeBases))
	s.mux.Handle("/knowledge-files/", s.withUser(s.handleKnowledgeFiles))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := usertoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.verifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, userID)
	})
}

// handleKnowledgeBases routes /knowledge-bases/{id} and
// /knowledge-bases/{id}/files.
func (s *Server) handleKnowledgeBases(w http.ResponseWriter, r *http.Request, _ string) {
	rest := strings.TrimPrefix(r.URL.Path, "/knowledge-bases/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.deleteKnowledgeBase(w, parts[0])
	case len(parts) == 2 && parts[1] == "files":
		switch r.Method {
		case http.MethodPost:
			s.uploadFile(w, r, parts[0])
		case http.MethodGet:
			s.listFiles(w, parts[0])
		default:
			methodNotAllowed(w)
		}
	default:
		http.NotFound(w, r)
	}
}

// handleKnowledgeFiles routes /knowledge-files/{id} and
// /knowledge-files/{id}/reingest.
func (s *Server) handleKnowledgeFiles(w http.ResponseWriter, r *http.Request, _ string) {
	rest := strings.TrimPrefix(r.URL.Path, "/knowledge-files/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.getFile(w, parts[0])
	case len(parts) == 2 && parts[1] == "reingest":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.reingest(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request, kbID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload failed")
		return
	}
	file, err := s.app.RegisterFile(r.Context(), kbID, header.Filename, header.Header.Get("Content-Type"), data)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) listFiles(w http.ResponseWriter, kbID string) {
	files, err := s.app.ListFiles(kbID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list files failed")
		return
	}
	if files == nil {
		files = []domain.KnowledgeFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) getFile(w http.ResponseWriter, id string) {
	file, ok, err := s.app.GetFile(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load file failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) reingest(w http.ResponseWriter, r *http.Request, id string) {
	ok, err := s.app.Reingest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reingest failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "file is not in a failed state")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (s *Server) deleteKnowledgeBase(w http.ResponseWriter, id string) {
	err := s.app.DeleteKnowledgeBase(id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
