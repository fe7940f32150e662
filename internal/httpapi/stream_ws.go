package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/mhorky/livegate/internal/eventlog"
	"github.com/mhorky/livegate/internal/events"
	"github.com/mhorky/livegate/internal/upstream"
)

// fetchChunkSize is how much remote audio is read per upstream frame.
const fetchChunkSize = 8192

// handleStreamWS transcribes an externally hosted audio stream. The
// client supplies a url query parameter; the gateway fetches the stream
// server-side and pipes it upstream while relaying transcription events
// back over the websocket.
func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request) {
	conn, ok := r.authUpgrade(w, req)
	if !ok {
		return
	}

	params := upstream.ParamsFromQuery(req.URL.Query())
	s := r.newSession(conn, params)

	src := req.URL.Query().Get("url")
	if !validStreamURL(src) {
		s.logger.Printf("stream: session %s rejected url %q", s.id, src)
		s.finish(websocket.ClosePolicyViolation, "missing or invalid url parameter",
			events.NewError(events.TypeValidationError, "INVALID_URL",
				"a valid http(s) url query parameter is required", nil))
		return
	}

	s.logger.Printf("stream: session %s accepted (model=%s url=%s)", s.id, params.Model, src)
	s.events.LogAsync(s.id, eventlog.EventSessionStarted, map[string]any{
		"mode": "stream", "model": params.Model, "language": params.Language,
	})

	if !s.connectUpstream(r.cfg) {
		return
	}

	go s.upstreamPump()
	go s.clientDrain()
	s.streamFrom(r.cfg.FetchClient, src)
}

func validStreamURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// clientDrain watches the client socket for close while the audio comes
// from the fetched stream rather than the client. Inbound frames are not
// forwarded in this mode.
func (s *relaySession) clientDrain() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.finish(clientCloseCode(err))
			return
		}
	}
}

// streamFrom fetches the remote audio source and forwards it upstream in
// fixed-size chunks. The fetch is cancelled as soon as the session ends
// so a stalled source cannot outlive its session.
func (s *relaySession) streamFrom(client *http.Client, src string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		s.finish(websocket.CloseInternalServerErr, "source fetch failed",
			events.NewError(events.TypeStreamError, "FETCH_FAILED",
				"could not request the audio source", nil))
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		s.logger.Printf("stream: session %s fetch failed: %v", s.id, err)
		s.finish(websocket.CloseInternalServerErr, "source unreachable",
			events.NewError(events.TypeStreamError, "SOURCE_UNREACHABLE",
				"the audio source could not be reached", nil))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.finish(websocket.CloseInternalServerErr, "source error",
			events.NewError(events.TypeStreamError, "SOURCE_ERROR",
				fmt.Sprintf("the audio source returned status %d", resp.StatusCode),
				map[string]any{"status": resp.StatusCode}))
		return
	}

	s.events.LogAsync(s.id, eventlog.EventStreamStarted, map[string]any{"status": resp.StatusCode})

	buf := make([]byte, fetchChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if sendErr := s.up.Send(websocket.BinaryMessage, buf[:n]); sendErr != nil {
				s.finish(websocket.CloseInternalServerErr, "upstream connection lost",
					events.NewError(events.TypeStreamError, "UPSTREAM_WRITE_FAILED",
						"transcription connection lost", nil))
				return
			}
			s.toUpstream.Add(1)
		}
		if err == io.EOF {
			// Source ended cleanly; let upstream flush its final results.
			// The upstream pump finishes the session when upstream closes.
			_ = s.up.FinishStream()
			return
		}
		if err != nil {
			select {
			case <-s.done:
				// Session already tore down; the read failed because the
				// fetch context was cancelled.
				return
			default:
			}
			s.logger.Printf("stream: session %s source read failed: %v", s.id, err)
			s.finish(websocket.CloseInternalServerErr, "source interrupted",
				events.NewError(events.TypeStreamError, "SOURCE_INTERRUPTED",
					"the audio source ended unexpectedly", nil))
			return
		}
	}
}
