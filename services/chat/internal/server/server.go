package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"charachat/internal/usertoken"
	"charachat/internal/util"
	"charachat/pkg/domain"
	"charachat/services/chat/internal/app"
)

const maxBodyBytes = 1 << 20

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

// Server exposes the conversation endpoints.
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
	s.mux.Handle("/characters/", s.withUser(s.handleCharacters))
	s.mux.Handle("/conversations/", s.withUser(s.handleConversations))
	s.mux.Handle("/search", s.withUser(s.handleSearch))
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

// handleCharacters routes /characters/{id}/conversations.
func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request, userID string) {
	rest := strings.TrimPrefix(r.URL.Path, "/characters/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "conversations" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	conv, err := s.app.EnsureConversation(userID, parts[0])
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "character not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "open conversation failed")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleConversations routes /conversations/{id}/messages.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "messages" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listMessages(w, r, userID, parts[0])
	case http.MethodPost:
		s.streamMessage(w, r, userID, parts[0])
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.app.History(userID, conversationID, limit)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load messages failed")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Parts []domain.ContentPart `json:"parts"`
	Text  string               `json:"text"`
}

// streamMessage runs one conversation turn and streams the reply as
// server-sent events. Each text increment is a "message" event; the stream
// ends with a "done" event.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	parts := req.Parts
	if len(parts) == 0 && strings.TrimSpace(req.Text) != "" {
		parts = []domain.ContentPart{{Type: domain.PartText, Text: req.Text}}
	}
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "message parts required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(text string) {
		writeEvent(w, "message", map[string]string{"text": text})
		flusher.Flush()
	}
	err := s.app.StreamMessage(r.Context(), conversationID, userID, parts, emit)
	if err != nil {
		// headers are already out; report the failure in-band
		msg := "message rejected"
		if errors.Is(err, domain.ErrNotFound) {
			msg = "conversation not found"
		}
		writeEvent(w, "error", map[string]string{"error": msg})
		flusher.Flush()
		return
	}
	writeEvent(w, "done", map[string]string{"status": "completed"})
	flusher.Flush()
}

type searchRequest struct {
	Query            string   `json:"query"`
	KnowledgeBaseIDs []string `json:"knowledgeBaseIds"`
	Threshold        *float64 `json:"threshold"`
	Limit            int      `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	threshold := -1.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	chunks, err := s.app.Search(r.Context(), req.Query, req.KnowledgeBaseIDs, threshold, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if chunks == nil {
		chunks = []domain.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
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
