package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleGetContext shows the persona block a reply to ?message= would be
// generated from, along with the memories that were selected for it.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	message := r.URL.Query().Get("message")

	preview, err := s.engine.PreviewContext(r.Context(), profileID, message)
	if err != nil {
		writeError(w, err)
		return
	}

	type memoryJSON struct {
		ID      string  `json:"id"`
		Type    string  `json:"type"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	}
	mems := make([]memoryJSON, len(preview.Memories))
	for i, m := range preview.Memories {
		mems[i] = memoryJSON{ID: m.ID, Type: string(m.Type), Content: m.Content, Score: m.Score}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"context":  preview.System,
		"memories": mems,
	})
}
