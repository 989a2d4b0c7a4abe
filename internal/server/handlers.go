package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
)

type publishOfferRequest struct {
	Offer     string `json:"offer"`
	SessionID string `json:"sessionId"`
	PeerID    string `json:"peer_id"`
}

type publishAnswerRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

type messageResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Fail to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps store errors onto the HTTP boundary.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mailbox.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, mailbox.ErrRetired):
		return http.StatusGone, "session already delivered"
	case errors.Is(err, mailbox.ErrClaimed):
		return http.StatusConflict, "another peer is already waiting on this session"
	case errors.Is(err, mailbox.ErrTimeout):
		return http.StatusRequestTimeout, "timed out waiting for peer"
	case errors.Is(err, mailbox.ErrClosed):
		return http.StatusServiceUnavailable, "relay is shutting down"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func sessionIDFrom(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handlePublishOffer(w http.ResponseWriter, r *http.Request) {
	var req publishOfferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID != "" || req.PeerID != "" {
		writeError(w, http.StatusBadRequest, "session ids are assigned by the relay")
		return
	}
	if req.Offer == "" {
		writeError(w, http.StatusBadRequest, "offer is required")
		return
	}

	id, err := s.store.PublishOffer(req.Offer)
	if err != nil {
		status, message := statusFor(err)
		logger.Error("Fail to publish offer", "error", err)
		writeError(w, status, message)
		return
	}
	logger.Info("Offer received", "session", id)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Offer received", SessionID: id.String()})
}

func (s *Server) handlePublishAnswer(w http.ResponseWriter, r *http.Request) {
	var req publishAnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, ok := sessionIDFrom(w, req.SessionID)
	if !ok {
		return
	}
	if req.Answer == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}

	if err := s.store.PublishAnswer(id, req.Answer); err != nil {
		status, message := statusFor(err)
		logger.Warn("Fail to publish answer", "session", id, "error", err)
		writeError(w, status, message)
		return
	}
	logger.Info("Answer received", "session", id)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Answer received"})
}

func (s *Server) handleFetch(role mailbox.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionIDFrom(w, r.PathValue("sessionId"))
		if !ok {
			return
		}

		var (
			blob string
			err  error
		)
		if role == mailbox.Offer {
			blob, err = s.store.FetchOffer(r.Context(), id)
		} else {
			blob, err = s.store.FetchAnswer(r.Context(), id)
		}
		if err != nil {
			status, message := statusFor(err)
			logger.Debug("Fetch failed", "session", id, "role", role, "error", err)
			writeError(w, status, message)
			return
		}

		logger.Info("Mailbox delivered", "session", id, "role", role)
		writeJSON(w, http.StatusOK, map[string]string{role.String(): blob})
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFrom(w, r.PathValue("sessionId"))
	if !ok {
		return
	}
	if err := s.store.CloseSession(id); err != nil {
		status, message := statusFor(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Session closed"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		mailbox.Stats
	}{Status: "ok", Stats: stats})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFrom(w, r.PathValue("sessionId"))
	if !ok {
		return
	}
	events, err := s.opts.History.History(r.Context(), id.String())
	if err != nil {
		logger.Error("Fail to read session history", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id.String(), "events": events})
}
