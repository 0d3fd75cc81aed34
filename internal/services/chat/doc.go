// Package chat groups the real-time two-party messaging service: credential
// and message persistence, session registry and presence propagation, and
// the WebSocket/HTTP transport that exposes them.
package chat
