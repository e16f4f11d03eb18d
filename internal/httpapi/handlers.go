package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hireloop/wabridge/internal/errs"
	"github.com/hireloop/wabridge/internal/store"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

// writeError maps domain sentinels onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrInvalidRecipient):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrSendFailed):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if err := s.mgr.Initialize(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.mgr.Status(userID))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.Status(mux.Vars(r)["userID"]))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if err := s.mgr.Logout(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var req sendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.To == "" || req.Text == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to and text are required"})
		return
	}
	res, err := s.mgr.SendText(r.Context(), userID, req.To, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type sendFileRequest struct {
	To       string `json:"to"`
	Path     string `json:"path"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var req sendFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.To == "" || req.Path == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to and path are required"})
		return
	}
	res, err := s.mgr.SendFile(r.Context(), userID, req.To, req.Path, req.Caption, req.MimeType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type chatsResponse struct {
	Chats []store.Chat `json:"chats"`
	Total int64        `json:"total"`
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	sess, err := s.db.ActiveSession(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeError(w, errs.ErrNoSession)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	chats, err := s.db.ListChats(sess.ID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	total, err := s.db.ChatCount(sess.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chatsResponse{Chats: chats, Total: total})
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess, err := s.db.ActiveSession(vars["userID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeError(w, errs.ErrNoSession)
		return
	}

	limit := queryInt(r, "limit", 50)
	before := int64(queryInt(r, "before", 0))
	msgs, err := s.db.ListMessages(sess.ID, vars["jid"], before, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	url, err := s.mgr.AvatarURL(r.Context(), vars["userID"], vars["jid"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
