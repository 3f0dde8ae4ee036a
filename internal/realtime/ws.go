package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// EventsPath is where the API serves change streams.
const EventsPath = "/v1/events"

// WSDialer dials the API's change stream over a websocket.
type WSDialer struct {
	// BaseURL is the API root, http(s) or ws(s).
	BaseURL string
	// Token returns the bearer token sent with each dial.
	Token  func(ctx context.Context) (string, error)
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, key Key) (Stream, error) {
	endpoint, err := d.endpoint(key)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.Token != nil {
		token, err := d.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("load token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsStream{conn: conn}, nil
}

func (d *WSDialer) endpoint(key Key) (string, error) {
	u, err := url.Parse(strings.TrimRight(d.BaseURL, "/") + EventsPath)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("resource", string(key.Resource))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
