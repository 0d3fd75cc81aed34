package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/duochat/duochat/internal/services/chat/storage"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 1000
)

// Send-path outcomes reported to the broadcast observer.
const (
	SendDelivered          = "delivered"
	SendValidationRejected = "validation_rejected"
	SendStoreFailed        = "store_failed"
)

// BroadcastObserver is invoked after each send attempt with its outcome.
// The push channel itself never acknowledges; deployments that need
// delivery receipts hook in here.
type BroadcastObserver func(outcome string, sender string, receiver string)

var nextConnID atomic.Int64

type wsSession struct {
	handle string
	peer   *wsPeer
}

type authenticatePayload struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type sendMessagePayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

type typingPayload struct {
	User string `json:"user"`
}

type messagePayload struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type wsErrorPayload struct {
	Error string `json:"error"`
}

func messagePayloadFrom(msg storage.Message) messagePayload {
	return messagePayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Message:   msg.Body,
		Timestamp: msg.SentAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	handle := fmt.Sprintf("conn_%d", nextConnID.Add(1))
	peer := newWSPeer(handle, json.NewEncoder(conn))
	session := &wsSession{handle: handle, peer: peer}

	s.hub.join(peer)
	log.Printf("chat: connection %s opened", handle)
	defer func() {
		s.hub.leave(peer)
		s.presence.Unbind(context.Background(), handle)
		log.Printf("chat: connection %s closed", handle)
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "authenticate":
			s.handleAuthenticateFrame(conn.Request().Context(), session, frame)
		case "send_message":
			s.handleSendMessageFrame(session, frame)
		case "typing":
			s.handleTypingFrame(session, frame, "user_typing")
		case "stop_typing":
			s.handleTypingFrame(session, frame, "user_stop_typing")
		default:
			_ = writeWSError(peer, "unsupported frame type")
		}
	}
}

func (s *Server) handleAuthenticateFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload authenticatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, "invalid authenticate payload")
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" {
		_ = writeWSError(session.peer, "username is required")
		return
	}

	if s.tokens.Enabled() {
		subject, err := s.tokens.Validate(payload.Token)
		if err != nil || subject != username {
			log.Printf("chat: connection %s failed token validation for %s", session.handle, username)
			_ = writeWSError(session.peer, "invalid session token")
			return
		}
	}

	s.presence.Bind(ctx, username, session.handle)
	log.Printf("chat: connection %s authenticated as %s", session.handle, username)
}

func (s *Server) handleSendMessageFrame(session *wsSession, frame wsFrame) {
	var payload sendMessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, "invalid send_message payload")
		return
	}

	sender := strings.TrimSpace(payload.Sender)
	receiver := strings.TrimSpace(payload.Receiver)

	if sender == "" || receiver == "" {
		_ = writeWSError(session.peer, "sender and receiver are required")
		s.observeSend(SendValidationRejected, sender, receiver)
		return
	}
	// Trimming is only the emptiness test; the message is stored as sent.
	if strings.TrimSpace(payload.Message) == "" {
		_ = writeWSError(session.peer, "message is required")
		s.observeSend(SendValidationRejected, sender, receiver)
		return
	}
	if utf8.RuneCountInString(payload.Message) > maxMessageBodyRunes {
		_ = writeWSError(session.peer, "message must be at most 1000 characters")
		s.observeSend(SendValidationRejected, sender, receiver)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	msg, err := s.store.AppendMessage(ctx, sender, receiver, payload.Message)
	cancel()
	if err != nil {
		// The sender gets no signal on persistence failure; only the
		// log and the observer record it.
		log.Printf("chat: append message from %s to %s: %v", sender, receiver, err)
		s.observeSend(SendStoreFailed, sender, receiver)
		return
	}

	s.hub.broadcast(wsFrame{
		Type:    "receive_message",
		Payload: mustJSON(messagePayloadFrom(msg)),
	})
	s.observeSend(SendDelivered, sender, receiver)
}

func (s *Server) handleTypingFrame(session *wsSession, frame wsFrame, outType string) {
	var payload typingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, "invalid typing payload")
		return
	}

	user := strings.TrimSpace(payload.User)
	if user == "" {
		if bound, ok := s.presence.Lookup(session.handle); ok {
			user = bound
		}
	}
	if user == "" {
		_ = writeWSError(session.peer, "user is required")
		return
	}

	s.hub.broadcastExcept(session.peer, wsFrame{
		Type:    outType,
		Payload: mustJSON(typingPayload{User: user}),
	})
}

func (s *Server) observeSend(outcome, sender, receiver string) {
	if s.observer != nil {
		s.observer(outcome, sender, receiver)
	}
}

func writeWSError(peer *wsPeer, message string) error {
	return peer.writeFrame(wsFrame{
		Type:    "error",
		Payload: mustJSON(wsErrorPayload{Error: message}),
	})
}
