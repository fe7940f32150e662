// Package upstream maintains the outbound websocket to Deepgram's live
// transcription API. Unlike a transcript consumer, the client here is a
// raw pass-through: frames read from upstream are handed to the caller
// unparsed so the relay can forward payload bytes unmodified.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the Deepgram live transcription endpoint.
const DefaultURL = "wss://api.deepgram.com/v1/listen"

// KeepAliveInterval is how often the client pings an idle upstream link
// to prevent Deepgram's idle timeout from dropping the session.
const KeepAliveInterval = 10 * time.Second

var keepAliveMessage = []byte(`{"type":"KeepAlive"}`)

// Params are the transcription parameters derived from the inbound
// request's query string. Zero values mean "use the documented default";
// the upstream service is the source of truth for value legality.
type Params struct {
	Model       string
	Language    string
	SmartFormat bool
	Encoding    string
	SampleRate  int
	Channels    int
}

// ParamsFromQuery reads transcription parameters from a query string,
// falling back to the documented defaults for anything absent.
func ParamsFromQuery(q url.Values) Params {
	p := Params{
		Model:       "nova-3",
		Language:    "en",
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  16000,
		Channels:    1,
	}
	if v := q.Get("model"); v != "" {
		p.Model = v
	}
	if v := q.Get("language"); v != "" {
		p.Language = v
	}
	if v := q.Get("smart_format"); v != "" {
		p.SmartFormat = v != "false"
	}
	if v := q.Get("encoding"); v != "" {
		p.Encoding = v
	}
	if v := q.Get("sample_rate"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.SampleRate = n
		}
	}
	if v := q.Get("channels"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Channels = n
		}
	}
	return p
}

// Config holds everything needed to open an upstream connection.
type Config struct {
	URL    string // endpoint; DefaultURL when empty
	APIKey string // carried in the Authorization header, never the URL
	Params Params

	// KeepAlive overrides the idle ping interval; KeepAliveInterval when zero.
	KeepAlive time.Duration
}

// Message is a single frame read from the upstream socket.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Client is a connected upstream transcription socket.
type Client struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	msgs      chan Message
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // serializes writes
	wg        sync.WaitGroup
	lastSend  atomic.Int64 // unix nanos of the last outbound frame
}

func buildURL(cfg Config) string {
	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	p := cfg.Params
	q := url.Values{}
	q.Set("model", p.Model)
	q.Set("language", p.Language)
	q.Set("smart_format", strconv.FormatBool(p.SmartFormat))
	q.Set("encoding", p.Encoding)
	q.Set("sample_rate", strconv.Itoa(p.SampleRate))
	q.Set("channels", strconv.Itoa(p.Channels))
	return base + "?" + q.Encode()
}

// Dial opens the upstream websocket and starts the read loop and the idle
// keepalive ticker.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, buildURL(cfg), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect upstream: %w", err)
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = KeepAliveInterval
	}

	c := &Client{
		conn:      conn,
		keepAlive: keepAlive,
		msgs:      make(chan Message, 16),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	c.lastSend.Store(time.Now().UnixNano())

	c.wg.Add(1)
	go c.readLoop()
	go c.keepAliveLoop()

	return c, nil
}

// Send forwards one frame to the upstream socket.
func (c *Client) Send(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("upstream client is closed")
	default:
	}

	c.lastSend.Store(time.Now().UnixNano())
	return c.conn.WriteMessage(msgType, data)
}

// Messages returns the channel of frames read from upstream. It is closed
// when the read loop ends.
func (c *Client) Messages() <-chan Message {
	return c.msgs
}

// Errors returns the channel carrying the terminal read or keepalive
// error, if any. A *websocket.CloseError here carries the upstream close
// code for mirroring.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// FinishStream tells upstream that no more audio is coming, leaving the
// connection open so final results can drain. Upstream closes the socket
// once it has flushed.
func (c *Client) FinishStream() error {
	return c.Send(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

// CloseWith sends a close control frame with the given code and reason,
// then tears the connection down. Used to mirror the client's close.
func (c *Client) CloseWith(code int, reason string) error {
	c.mu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.mu.Unlock()
	return c.Close()
}

// Close ends the stream and releases the connection. Safe to call more
// than once; only the first call has effect.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// Tell Deepgram the stream is over so it can flush final results.
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		// readLoop owns msgs; once it exits the channel is closed.
		c.wg.Wait()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.msgs)
		c.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case c.errs <- err:
			default:
			}
			return
		}

		select {
		case <-c.done:
			return
		case c.msgs <- Message{Type: msgType, Data: data}:
		}
	}
}

// keepAliveLoop pings the upstream socket whenever it has been idle for a
// full interval. A failed keepalive is a terminal upstream error.
func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastSend.Load()))
			if idle < c.keepAlive {
				continue
			}
			if err := c.Send(websocket.TextMessage, keepAliveMessage); err != nil {
				select {
				case <-c.done:
				case c.errs <- fmt.Errorf("keepalive failed: %w", err):
				default:
				}
				return
			}
		}
	}
}
