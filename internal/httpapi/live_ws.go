package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mhorky/livegate/internal/eventlog"
	"github.com/mhorky/livegate/internal/events"
	"github.com/mhorky/livegate/internal/upstream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	upstreamDialTimeout = 10 * time.Second
	writeTimeout        = 10 * time.Second
)

// Relay session states. CONNECTING covers the upstream dial; ACTIVE is
// bidirectional forwarding; CLOSING means one side has initiated close;
// CLOSED means both sockets are down and the registry entry is gone.
const (
	stateConnecting int32 = iota
	stateActive
	stateClosing
	stateClosed
)

// relaySession pairs one client socket with one upstream socket. Sessions
// share nothing with each other; the registry is the only cross-session
// state.
type relaySession struct {
	id     string
	conn   *websocket.Conn
	connMu sync.Mutex // serializes client writes
	up     *upstream.Client
	params upstream.Params

	logger *log.Logger
	events *eventlog.Logger
	conns  *ConnRegistry

	state      atomic.Int32
	toUpstream atomic.Int64 // client→upstream frames forwarded
	toClient   atomic.Int64 // upstream→client frames forwarded

	teardown sync.Once
	done     chan struct{}
}

func (r *Router) newSession(conn *websocket.Conn, params upstream.Params) *relaySession {
	return &relaySession{
		id:     uuid.NewString(),
		conn:   conn,
		params: params,
		logger: r.logger,
		events: r.eventLog,
		conns:  r.conns,
		done:   make(chan struct{}),
	}
}

// authUpgrade validates the access_token.* subprotocol and, on success,
// upgrades the connection echoing the exact matching subprotocol value.
// Auth failures are refused with 401 before any socket is established, so
// a bad token never consumes a handshake or a registry slot.
func (r *Router) authUpgrade(w http.ResponseWriter, req *http.Request) (*websocket.Conn, bool) {
	proto, err := r.issuer.FromSubprotocols(websocket.Subprotocols(req))
	if err != nil {
		r.logger.Printf("ws: rejected upgrade from %s: %v", req.RemoteAddr, err)
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}

	if r.conns.IsDraining() {
		http.Error(w, `{"error": "server is shutting down"}`, http.StatusServiceUnavailable)
		return nil, false
	}

	respHeader := http.Header{}
	respHeader.Set("Sec-WebSocket-Protocol", proto)
	conn, err := upgrader.Upgrade(w, req, respHeader)
	if err != nil {
		r.logger.Printf("ws: upgrade failed: %v", err)
		return nil, false
	}

	if !r.conns.Add(conn) {
		// Draining began between the check above and registration.
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		return nil, false
	}

	return conn, true
}

// handleLiveWS relays browser microphone audio to the transcription
// service. Clients may start sending audio immediately after the upgrade;
// frames are not read until the upstream link is up, so nothing is
// dropped and ordering is preserved.
func (r *Router) handleLiveWS(w http.ResponseWriter, req *http.Request) {
	conn, ok := r.authUpgrade(w, req)
	if !ok {
		return
	}

	params := upstream.ParamsFromQuery(req.URL.Query())
	s := r.newSession(conn, params)
	s.logger.Printf("live: session %s accepted (model=%s language=%s encoding=%s)",
		s.id, params.Model, params.Language, params.Encoding)
	s.events.LogAsync(s.id, eventlog.EventSessionStarted, map[string]any{
		"mode": "live", "model": params.Model, "language": params.Language,
	})

	if !s.connectUpstream(r.cfg) {
		return
	}

	go s.upstreamPump()
	s.clientPump()
}

// connectUpstream performs the CONNECTING → ACTIVE transition: it dials
// the upstream socket and notifies the client with a Ready event. On dial
// failure the client receives a ConnectionError event before its socket
// is closed — never a silent disconnect.
func (s *relaySession) connectUpstream(cfg RouterConfig) bool {
	ctx, cancel := context.WithTimeout(context.Background(), upstreamDialTimeout)
	defer cancel()

	up, err := upstream.Dial(ctx, upstream.Config{
		URL:    cfg.DeepgramURL,
		APIKey: cfg.DeepgramAPIKey,
		Params: s.params,
	})
	if err != nil {
		s.logger.Printf("relay: session %s upstream dial failed: %v", s.id, err)
		s.finish(websocket.CloseInternalServerErr, "upstream connection failed",
			events.NewError(events.TypeConnectionError, "UPSTREAM_CONNECT_FAILED",
				"failed to establish transcription connection", nil))
		return false
	}

	s.up = up
	s.state.Store(stateActive)
	s.events.LogAsync(s.id, eventlog.EventUpstreamConnected, nil)

	if err := s.writeMessage(websocket.TextMessage, events.NewReady()); err != nil {
		s.finish(websocket.CloseInternalServerErr, "client write failed", nil)
		return false
	}
	s.events.LogAsync(s.id, eventlog.EventReadySent, nil)

	return true
}

// clientPump forwards every client frame verbatim to the upstream socket.
// A write stall on the upstream side blocks this loop; there is no
// internal queueing.
func (s *relaySession) clientPump() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(clientCloseCode(err))
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		if err := s.up.Send(msgType, data); err != nil {
			s.finish(websocket.CloseInternalServerErr, "upstream connection lost",
				events.NewError(events.TypeStreamError, "UPSTREAM_WRITE_FAILED",
					"transcription connection lost", nil))
			return
		}
		s.toUpstream.Add(1)
	}
}

// upstreamPump forwards every upstream frame verbatim to the client
// socket. Payload bytes pass through unmodified; the gateway never
// re-frames or inspects them.
func (s *relaySession) upstreamPump() {
	// Messages closes only after every received frame has been delivered,
	// so final results sent just before the upstream close are never lost.
	for msg := range s.up.Messages() {
		if err := s.writeMessage(msg.Type, msg.Data); err != nil {
			s.finish(websocket.CloseNormalClosure, "client gone", nil)
			return
		}
		s.toClient.Add(1)
	}

	// The read loop has ended; its terminal error, if any, is queued.
	select {
	case err := <-s.up.Errors():
		var ce *websocket.CloseError
		switch {
		case errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure:
			s.finish(websocket.CloseNormalClosure, "transcription complete", nil)

		case errors.As(err, &ce) && sendableCloseCode(ce.Code):
			// Upstream reported an error through its close frame.
			s.logger.Printf("relay: session %s upstream closed with %d: %s", s.id, ce.Code, ce.Text)
			s.finish(websocket.CloseInternalServerErr, "upstream error",
				events.NewError(events.TypeUpstreamError, "UPSTREAM_ERROR",
					"transcription service reported an error",
					map[string]any{"code": ce.Code, "reason": ce.Text}))

		default:
			s.logger.Printf("relay: session %s upstream error: %v", s.id, err)
			s.finish(websocket.CloseInternalServerErr, "upstream connection lost",
				events.NewError(events.TypeStreamError, "UPSTREAM_DROPPED",
					"transcription connection lost unexpectedly", nil))
		}
	default:
		s.finish(websocket.CloseNormalClosure, "transcription complete", nil)
	}
}

// clientCloseCode derives the code and reason to propagate when the
// client socket closed or errored. Reserved codes that cannot appear in a
// close frame are replaced with a generic one.
func clientCloseCode(err error) (int, string, []byte) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && sendableCloseCode(ce.Code) {
		return ce.Code, ce.Text, nil
	}
	return websocket.CloseNormalClosure, "client disconnected", nil
}

func sendableCloseCode(code int) bool {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return false
	}
	return true
}

var errSessionClosed = errors.New("session closed")

// writeMessage sends one frame to the client socket. Once the session
// reaches CLOSED the socket is gone and writes are refused outright.
func (s *relaySession) writeMessage(msgType int, data []byte) error {
	if s.state.Load() == stateClosed {
		return errSessionClosed
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}

// finish drives the CLOSING → CLOSED transition exactly once. Whichever
// side is still open is closed with the given code and reason; errEvent,
// when non-nil, is delivered to the client before its socket closes so
// the UI can distinguish causes from generic disconnects.
func (s *relaySession) finish(code int, reason string, errEvent []byte) {
	s.teardown.Do(func() {
		s.state.Store(stateClosing)

		if errEvent != nil {
			_ = s.writeMessage(websocket.TextMessage, errEvent)
			s.events.LogAsync(s.id, eventlog.EventErrorSent, map[string]any{"close_code": code})
		}

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		s.connMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		s.connMu.Unlock()
		_ = s.conn.Close()

		if s.up != nil {
			_ = s.up.CloseWith(code, reason)
		}

		s.conns.Remove(s.conn)
		close(s.done)
		s.state.Store(stateClosed)

		s.logger.Printf("relay: session %s closed (code=%d to_upstream=%d to_client=%d)",
			s.id, code, s.toUpstream.Load(), s.toClient.Load())
		s.events.LogAsync(s.id, eventlog.EventSessionEnded, map[string]any{
			"close_code":  code,
			"to_upstream": s.toUpstream.Load(),
			"to_client":   s.toClient.Load(),
		})
	})
}
