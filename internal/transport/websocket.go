package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
)

// HeaderUsername and HeaderDevice identify the account opening a stream.
const (
	HeaderUsername = "X-Courier-Username"
	HeaderDevice   = "X-Courier-Device"
)

// wsConn is the subset of *websocket.Conn the client uses, so tests can
// swap in an in-memory connection.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

func dialWebsocket(ctx context.Context, u string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{ //nolint:bodyclose // Dial closes the response body
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client streams envelopes for one account from the relay over a websocket.
// Connect and Disconnect may be called from any goroutine; ReadOrEmpty is
// meant for a single reader.
type Client struct {
	url      string
	username domain.Username
	device   domain.DeviceID
	dial     dialFunc

	mu   sync.Mutex
	conn wsConn
}

// NewClient returns a Client for the stream endpoint at rawURL.
func NewClient(rawURL string, username domain.Username, device domain.DeviceID) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("stream url scheme %q not supported", u.Scheme)
	}
	return &Client{
		url:      u.String(),
		username: username,
		device:   device,
		dial:     dialWebsocket,
	}, nil
}

// Connect opens a new stream, closing any previous one.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set(HeaderUsername, c.username.String())
	header.Set(HeaderDevice, c.device.String())

	conn, err := c.dial(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close(websocket.StatusNormalClosure, "reconnect")
	}
	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"url":      c.url,
		"username": c.username,
	}).Debug("Stream connected")
	return nil
}

// Disconnect closes the current stream. It is safe to call when no stream is
// open.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// ReadOrEmpty waits up to timeout for the next frame. An envelope is handed
// to onEnvelope and acknowledged after it returns; the result is then true.
// An empty frame yields false.
//
// A read that times out leaves the stream closed, so the next call reports
// ErrUnavailable and the caller reconnects.
func (c *Client) ReadOrEmpty(
	ctx context.Context,
	timeout time.Duration,
	onEnvelope func(domain.Envelope),
) (bool, error) {
	conn := c.current()
	if conn == nil {
		return false, ErrUnavailable
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		_, data, err := conn.Read(rctx)
		if err != nil {
			c.drop(conn)
			switch {
			case ctx.Err() != nil:
				return false, ctx.Err()
			case errors.Is(rctx.Err(), context.DeadlineExceeded):
				return false, ErrTimeout
			}
			return false, fmt.Errorf("read frame: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ReadOrEmpty",
			}).WithError(err).Warn("Skipping malformed frame")
			continue
		}

		switch f.Type {
		case FrameEmpty:
			return false, nil
		case FrameEnvelope:
			if f.Envelope == nil {
				continue
			}
			onEnvelope(*f.Envelope)
			if err := writeFrame(ctx, conn, Frame{Type: FrameAck, ID: f.ID}); err != nil {
				c.drop(conn)
				return true, fmt.Errorf("ack %s: %w", f.ID, err)
			}
			return true, nil
		default:
			logrus.WithFields(logrus.Fields{
				"function": "ReadOrEmpty",
				"type":     f.Type,
			}).Debug("Ignoring unknown frame")
		}
	}
}

func (c *Client) current() wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// drop forgets conn if it is still the current stream.
func (c *Client) drop(conn wsConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "read failed")
}

func writeFrame(ctx context.Context, conn wsConn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var _ domain.Transport = (*Client)(nil)
