package socketio

import (
	"sync"
)

// ConnectionLimiter caps concurrent external (non-localhost) connections.
// Local connections are always admitted. When an external connection
// pushes the count past the cap, the oldest external client is evicted.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	// external connections in admission order, oldest first
	external []string
	ips      map[string]string
}

// NewConnectionLimiter creates a limiter allowing up to maxExternal
// concurrent non-localhost connections.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxExternal: maxExternal,
		ips:         make(map[string]string),
	}
}

// Admit registers a connection and returns the ID of the client evicted
// to make room, if any.
func (cl *ConnectionLimiter) Admit(clientID, remoteIP string) (evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.ips[clientID]; exists {
		return ""
	}
	cl.ips[clientID] = remoteIP

	if isLocalIP(remoteIP) {
		return ""
	}

	cl.external = append(cl.external, clientID)
	if len(cl.external) <= cl.maxExternal {
		return ""
	}

	evictedID = cl.external[0]
	cl.external = cl.external[1:]
	delete(cl.ips, evictedID)
	return evictedID
}

// Drop unregisters a connection when a client disconnects.
func (cl *ConnectionLimiter) Drop(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ip, exists := cl.ips[clientID]
	if !exists {
		return
	}
	delete(cl.ips, clientID)

	if isLocalIP(ip) {
		return
	}
	for i, id := range cl.external {
		if id == clientID {
			cl.external = append(cl.external[:i], cl.external[i+1:]...)
			break
		}
	}
}

// isLocalIP reports whether the address is localhost. The socket.io
// handshake may wrap IPv6 addresses or report the IPv4-mapped form.
func isLocalIP(ip string) bool {
	switch ip {
	case "127.0.0.1", "::1", "[::1]", "::ffff:127.0.0.1":
		return true
	}
	return false
}
