package assist

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the assistant HTTP API under the given router, typically
// at /api/assist.
func (s *Service) Routes(r chi.Router) {
	r.Route("/{websiteID}", func(r chi.Router) {
		r.Post("/instruct", s.handleInstruct)
		r.Post("/suggest", s.handleSuggest)
		r.Post("/edits", s.handleEdit)
		r.Post("/dismiss", s.handleDismiss)
		r.Post("/cancel", s.handleCancel)
		r.Post("/save", s.handleSave)
		r.Put("/content", s.handleSetContent)
		r.Get("/history", s.handleHistory)
		r.Get("/state", s.handleState)
	})
}

func (s *Service) handleInstruct(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Instruction == "" {
		jsonErr(w, "instruction is required", http.StatusBadRequest)
		return
	}

	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	reply, err := sess.Instruct(r.Context(), req)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Service) handleSuggest(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	r.Body = http.MaxBytesReader(w, r.Body, 8*1024)

	var req struct {
		DeviceContext string `json:"deviceContext"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	reply, err := sess.Suggest(r.Context(), req.DeviceContext)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleEdit records one manual editor change for the auto-suggest
// counter. Fire-and-forget from the client's point of view.
func (s *Service) handleEdit(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	sess.NoteEdit()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleDismiss(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	sess.DismissSuggestion()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	sess.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Service) handleSave(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	if err := s.SaveWebsite(r.Context(), websiteID); err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Service) handleSetContent(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)

	var req struct {
		HTML string `json:"html"`
		CSS  string `json:"css"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.SetContent(r.Context(), websiteID, req.HTML, req.CSS); err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	entries, err := s.History(r.Context(), websiteID, page, limit)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"page":    page,
	})
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	sess, err := s.Session(r.Context(), websiteID)
	if err != nil {
		s.writeErr(w, websiteID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":        sess.State().String(),
		"conversation": sess.Conversation(),
	})
}

// writeErr maps the failure taxonomy to HTTP statuses. The body carries
// the user-safe message, never internal error text.
func (s *Service) writeErr(w http.ResponseWriter, websiteID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrUnsafeInstruction):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNoEffect), errors.Is(err, ErrFallbackExhausted):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, ErrNotSaved):
		status = http.StatusBadGateway
	case errors.Is(err, ErrWebsiteNotFound):
		jsonErr(w, "website not found", http.StatusNotFound)
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "website_id", websiteID, "error", err)
	}
	jsonErr(w, UserMessage(err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
