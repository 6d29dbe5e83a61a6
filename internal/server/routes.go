package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/profile"
	"github.com/lazypower/persona/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognized is
// logged and reported as a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, profile.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	default:
		slog.Error("server: request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a JSON request body into v. A malformed body is invalid
// input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", profile.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req engine.NewProfile
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := s.engine.CreateProfile(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.engine.ListProfiles(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []*profile.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(profiles),
		"profiles": profiles,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetProfile(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteProfile(r.Context(), chi.URLParam(r, "profileID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if _, err := s.engine.GetProfile(r.Context(), profileID); err != nil {
		writeError(w, err)
		return
	}
	chats, err := s.engine.ListChats(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	if chats == nil {
		chats = []*chat.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(chats),
		"chats": chats,
	})
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.StartChat(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := profile.DefaultRecallLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit must be an integer", profile.ErrInvalidInput))
			return
		}
		limit = n
	}

	results, err := s.engine.Recall(r.Context(), chi.URLParam(r, "profileID"), query, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req profile.MemoryInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Source == "" {
		req.Source = profile.SourceConversation
	}

	m, err := s.engine.RememberFact(r.Context(), chi.URLParam(r, "profileID"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleAdjustStyle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		engine.StyleChange
		Reason string `json:"reason"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.engine.AdjustStyle(r.Context(), chi.URLParam(r, "profileID"), req.StyleChange, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	reply, err := s.engine.SendMessage(r.Context(), chi.URLParam(r, "chatID"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: message index must be an integer", profile.ErrInvalidInput))
		return
	}
	var req chat.Feedback
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	stats, err := s.engine.Feedback(r.Context(), chi.URLParam(r, "chatID"), index, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_stats": stats})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	x, err := s.engine.ExtractProfile(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"extraction": x}
	if r.URL.Query().Get("apply") == "true" {
		c, err := s.engine.GetChat(r.Context(), chatID)
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := s.engine.ApplyExtraction(r.Context(), c.ProfileID, x)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["profile"] = p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInterview(w http.ResponseWriter, r *http.Request) {
	reply, err := s.engine.InterviewQuestion(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
