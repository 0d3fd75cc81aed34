package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	handle  string
	encoder *json.Encoder
}

func newWSPeer(handle string, encoder *json.Encoder) *wsPeer {
	return &wsPeer{handle: handle, encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// peerHub tracks every connected peer. The service hosts one conversation,
// so there is no room keying; a broadcast reaches everyone.
type peerHub struct {
	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

func newPeerHub() *peerHub {
	return &peerHub{peers: make(map[*wsPeer]struct{})}
}

func (h *peerHub) join(peer *wsPeer) {
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *peerHub) leave(peer *wsPeer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()
}

func (h *peerHub) snapshot() []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := make([]*wsPeer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	return peers
}

// broadcast sends frame to every connected peer.
func (h *peerHub) broadcast(frame wsFrame) {
	for _, peer := range h.snapshot() {
		_ = peer.writeFrame(frame)
	}
}

// broadcastExcept sends frame to every peer except origin.
func (h *peerHub) broadcastExcept(origin *wsPeer, frame wsFrame) {
	for _, peer := range h.snapshot() {
		if peer == origin {
			continue
		}
		_ = peer.writeFrame(frame)
	}
}

type statusChangedPayload struct {
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// BroadcastStatus announces an online/offline transition to all peers.
// Offline events carry the last-seen time; online events omit it.
func (h *peerHub) BroadcastStatus(username string, isOnline bool, lastSeen time.Time) {
	payload := statusChangedPayload{
		Username: username,
		IsOnline: isOnline,
	}
	if !isOnline {
		payload.LastSeen = lastSeen.UTC().Format(time.RFC3339)
	}
	h.broadcast(wsFrame{Type: "user_status_changed", Payload: mustJSON(payload)})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("chat: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
