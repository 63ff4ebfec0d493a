package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
)

// UpstreamConfig describes how to reach the Realtime API for one session.
type UpstreamConfig struct {
	URL          string
	Model        string
	APIKey       string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

type upstreamFrame struct {
	messageType int
	data        []byte
}

// upstreamConn wraps the provider leg: a read loop feeding a channel, and
// deadline-guarded writes behind one mutex. The mutex is also what makes
// the tool-result pair atomic: nothing interleaves between the output item
// and the continuation trigger.
type upstreamConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	frames    chan upstreamFrame
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

func dialUpstream(ctx context.Context, cfg UpstreamConfig) (*upstreamConn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("upstream api key is required")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial upstream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	c := &upstreamConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		frames:       make(chan upstreamFrame, 256),
		closed:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *upstreamConn) readLoop() {
	defer close(c.frames)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setReadErr(err)
			return
		}
		select {
		case c.frames <- upstreamFrame{messageType: messageType, data: data}:
		case <-c.closed:
			return
		}
	}
}

// Frames yields upstream frames in receive order. The channel closes when
// the upstream leg dies; ReadErr says why.
func (c *upstreamConn) Frames() <-chan upstreamFrame {
	return c.frames
}

func (c *upstreamConn) setReadErr(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
}

func (c *upstreamConn) ReadErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *upstreamConn) WriteRaw(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(messageType, data)
}

func (c *upstreamConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.WriteRaw(websocket.TextMessage, data)
}

// SendToolOutput writes the mandatory result pair for one tool call: the
// function_call_output item followed by response.create. Both frames go
// out under a single lock hold so no other upstream write can slot in
// between them.
func (c *upstreamConn) SendToolOutput(callID, output string) error {
	item, err := json.Marshal(protocol.NewFunctionCallOutput(callID, output))
	if err != nil {
		return fmt.Errorf("marshal tool output: %w", err)
	}
	trigger, err := json.Marshal(protocol.NewResponseCreate())
	if err != nil {
		return fmt.Errorf("marshal response.create: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writeLocked(websocket.TextMessage, item); err != nil {
		return fmt.Errorf("send tool output: %w", err)
	}
	if err := c.writeLocked(websocket.TextMessage, trigger); err != nil {
		return fmt.Errorf("send continuation: %w", err)
	}
	return nil
}

func (c *upstreamConn) writeLocked(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *upstreamConn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}
