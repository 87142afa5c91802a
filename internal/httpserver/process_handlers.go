package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/dispatcher"
	"github.com/textpilot/textpilot-daemon/internal/prompt"
)

type processRequest struct {
	Text     string `json:"text"`
	ButtonID string `json:"buttonId"`
	RoleID   string `json:"roleId"`
	UserID   string `json:"userId"`
}

type processResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

type cancelRequest struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// handleProcess accepts a generation trigger. The response only ever
// acknowledges acceptance; everything after that arrives on the user's
// websocket.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}

	requestID, err := s.dispatcher.Trigger(dispatcher.TriggerRequest{
		Text:     req.Text,
		ButtonID: req.ButtonID,
		RoleID:   req.RoleID,
		UserID:   req.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrNoConnection):
			s.respondError(w, http.StatusConflict, err)
		case errors.Is(err, prompt.ErrUnknownTemplate):
			s.respondError(w, http.StatusNotFound, err)
		case errors.Is(err, dispatcher.ErrTextTooLong):
			s.respondError(w, http.StatusRequestEntityTooLarge, err)
		default:
			s.respondError(w, http.StatusBadRequest, err)
		}
		return
	}

	s.respondJSON(w, http.StatusOK, processResponse{
		Status:    "ok",
		RequestID: requestID,
		Message:   "Processing started",
	})
	s.logf("process accepted user=%s request=%s button=%s role=%s total_ms=%d",
		req.UserID, requestID, req.ButtonID, req.RoleID, time.Since(reqStart).Milliseconds())
}

// handleCancel requests cooperative cancellation of the user's active job.
// 404 means the request is not the active job, usually because it already
// finished.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if !s.dispatcher.Cancel(req.UserID, req.RequestID) {
		s.respondError(w, http.StatusNotFound,
			errors.New("request "+req.RequestID+" not found for user "+req.UserID))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHistory lists recent finished jobs when a history store is wired.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = parsed
	}

	records, err := s.history.ListRecent(r.Context(), userID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	summary, err := s.history.Summary(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"summary": summary,
	})
}
