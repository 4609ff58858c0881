package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/teller/internal/session"
)

// inputSanitizer strips HTML from inbound utterances before they reach
// the engine; callers are transcription services, not browsers, but the
// transcript is later rendered in operator tooling.
var inputSanitizer = bluemonday.StrictPolicy()

// turnResponse is the wire shape for call creation and every processed
// turn. Messages are spoken in order; CallOver signals session close.
type turnResponse struct {
	CallID   string   `json:"call_id"`
	Messages []string `json:"messages"`
	CallOver bool     `json:"call_over"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"live_sessions": s.manager.Count(),
	})
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	sess, greeting := s.manager.Create(r.Context())
	writeJSON(w, http.StatusCreated, turnResponse{
		CallID:   sess.ID(),
		Messages: []string{greeting},
		CallOver: false,
	})
}

func (s *Server) handleCallMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such call")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	utterance := strings.TrimSpace(inputSanitizer.Sanitize(req.Text))
	if utterance == "" {
		// Unintelligible or empty input never reaches the engine; answer
		// with a pardon and keep the call open.
		pardon := s.manager.engine.ContextualResponse(r.Context(), sess, session.ResponsePardon)
		writeJSON(w, http.StatusOK, turnResponse{CallID: id, Messages: []string{pardon}, CallOver: false})
		return
	}

	out, err := s.manager.engine.ProcessTurn(r.Context(), sess, utterance)
	if err != nil {
		if errors.Is(err, session.ErrCallOver) {
			s.manager.Remove(id)
			writeError(w, http.StatusGone, "call_over", "the call has ended")
			return
		}
		log.Error().Err(err).Str("call_id", id).Msg("turn_processing_failed")
		writeError(w, http.StatusInternalServerError, "internal", "turn processing failed")
		return
	}

	if out.CallOver {
		s.manager.Remove(id)
	}
	writeJSON(w, http.StatusOK, turnResponse{CallID: id, Messages: out.Messages, CallOver: out.CallOver})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such call")
		return
	}
	s.manager.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}
