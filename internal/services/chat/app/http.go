package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/duochat/duochat/internal/services/chat/credentials"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type userStatusResponse struct {
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("chat: encode response: %v", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user, err := s.verifier.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
		log.Printf("chat: login for %s: %v", strings.TrimSpace(req.Username), err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	s.presence.MarkOnline(r.Context(), user.Username)

	resp := loginResponse{Success: true, Username: user.Username}
	if s.tokens.Enabled() {
		signed, err := s.tokens.Issue(user.Username)
		if err != nil {
			log.Printf("chat: issue token for %s: %v", user.Username, err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		resp.Token = signed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))
	if username == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	history, err := s.store.History(ctx, username)
	cancel()
	if err != nil {
		log.Printf("chat: history for %s: %v", username, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	payload := make([]messagePayload, 0, len(history))
	for _, msg := range history {
		payload = append(payload, messagePayloadFrom(msg))
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleClearChat deletes every message in the store. There is a single
// conversation, so the blast radius is the whole history.
func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	err := s.store.ClearMessages(ctx)
	cancel()
	if err != nil {
		log.Printf("chat: clear messages: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	s.hub.broadcast(wsFrame{Type: "chat_cleared"})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))
	if username == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username is required"})
		return
	}

	status, err := s.presence.Snapshot(r.Context(), username)
	if err != nil {
		log.Printf("chat: status for %s: %v", username, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := userStatusResponse{IsOnline: status.IsOnline}
	if !status.LastSeen.IsZero() {
		resp.LastSeen = status.LastSeen.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
