package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
	"github.com/MikeSquared-Agency/concierge/internal/gateway"
)

type askRequest struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	VisitorName    string   `json:"visitor_name"`
	VisitorEmail   string   `json:"visitor_email"`
	VisitorToken   string   `json:"visitor_token"`
	Providers      []string `json:"providers,omitempty"`
}

// ask handles POST /api/v1/assistant/ask
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: string(gateway.KindValidation)})
		return
	}
	if req.VisitorToken == "" {
		req.VisitorToken = visitorToken(r)
	}

	ans, err := s.gw.AskAssistant(r.Context(), CallerFrom(r.Context()), gateway.AskInput{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		VisitorName:    req.VisitorName,
		VisitorEmail:   req.VisitorEmail,
		VisitorToken:   req.VisitorToken,
		Providers:      req.Providers,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type createRequest struct {
	VisitorName  string `json:"visitor_name"`
	VisitorEmail string `json:"visitor_email"`
}

// createConversation handles POST /api/v1/conversations
func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: string(gateway.KindValidation)})
		return
	}

	created, err := s.gw.CreateConversation(r.Context(), CallerFrom(r.Context()), gateway.CreateInput{
		VisitorName:  req.VisitorName,
		VisitorEmail: req.VisitorEmail,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type sendRequest struct {
	Message      string `json:"message"`
	SenderName   string `json:"sender_name"`
	VisitorToken string `json:"visitor_token"`
}

// sendMessage handles POST /api/v1/conversations/{id}/messages
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Kind: string(gateway.KindValidation)})
		return
	}
	if req.VisitorToken == "" {
		req.VisitorToken = visitorToken(r)
	}

	msg, err := s.gw.SendMessage(r.Context(), CallerFrom(r.Context()), gateway.SendInput{
		ConversationID: chi.URLParam(r, "id"),
		Message:        req.Message,
		SenderName:     req.SenderName,
		VisitorToken:   req.VisitorToken,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": msg})
}

// listMessages handles GET /api/v1/conversations/{id}/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.gw.GetMessages(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), visitorToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// markRead handles POST /api/v1/conversations/{id}/read
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.gw.MarkAsRead(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), visitorToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "marked": n})
}

// unreadCount handles GET /api/v1/conversations/{id}/unread
func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.gw.UnreadCount(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), visitorToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

// closeConversation handles POST /api/v1/conversations/{id}/close
func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.CloseConversation(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
