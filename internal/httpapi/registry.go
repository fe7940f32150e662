package httpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn the registry needs. Keeping it
// an interface lets tests register fakes.
type wsConn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ConnRegistry tracks active client websockets and supports graceful
// shutdown. When draining is enabled, new connections are rejected;
// CloseAll pushes a close frame to every registered socket so in-flight
// sessions tear down promptly.
//
// The mu mutex makes the draining check and registration atomic in Add(),
// preventing a TOCTOU race where StartDraining+CloseAll could run between
// the draining check and the insert.
type ConnRegistry struct {
	mu       sync.Mutex
	draining bool
	conns    map[wsConn]struct{}
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewConnRegistry creates a new ConnRegistry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[wsConn]struct{})}
}

// Add registers a client socket. Returns false if the registry is
// draining, meaning the connection should be closed instead of served.
func (cr *ConnRegistry) Add(c wsConn) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	if _, ok := cr.conns[c]; ok {
		return true
	}
	cr.conns[c] = struct{}{}
	cr.wg.Add(1)
	cr.count.Add(1)
	return true
}

// Remove deregisters a socket at session teardown. Safe to call for a
// socket that was never added or was already removed.
func (cr *ConnRegistry) Remove(c wsConn) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if _, ok := cr.conns[c]; !ok {
		return
	}
	delete(cr.conns, c)
	cr.count.Add(-1)
	cr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
func (cr *ConnRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (cr *ConnRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

// ActiveCount returns the number of currently registered sockets.
func (cr *ConnRegistry) ActiveCount() int64 {
	return cr.count.Load()
}

// CloseAll sends a close frame with the given code and reason to every
// registered socket, then closes it. Sessions observe the resulting read
// error and run their normal teardown, which calls Remove.
func (cr *ConnRegistry) CloseAll(code int, reason string) {
	cr.mu.Lock()
	snapshot := make([]wsConn, 0, len(cr.conns))
	for c := range cr.conns {
		snapshot = append(snapshot, c)
	}
	cr.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range snapshot {
		_ = c.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.Close()
	}
}

// Wait blocks until every registered socket has been removed.
func (cr *ConnRegistry) Wait() {
	cr.wg.Wait()
}
