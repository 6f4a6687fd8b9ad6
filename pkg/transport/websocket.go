// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrFixedBaudRate is returned when asking a bridge to change line speed
var ErrFixedBaudRate = errors.New("baud rate is fixed by the serial bridge")

// WebSocketPort carries bus bytes as binary WebSocket messages to a remote
// serial bridge
type WebSocketPort struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	pump    *pump
	once    sync.Once
}

// DialWebSocket opens a WebSocket connection with HTTP Basic auth
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketPort, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocketPort(conn), nil
}

// NewWebSocketPort wraps an established connection. A gorilla read deadline
// that expires leaves the connection unusable, so messages are pumped in the
// background and deadlines apply to the pump instead.
func NewWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{conn: conn}
	w.pump = startPump(func() ([]byte, error) {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Bus traffic only travels in binary messages
		if messageType != websocket.BinaryMessage {
			return nil, nil
		}
		return data, nil
	})
	return w
}

// WebSocketOpener returns an Opener that dials the bridge on every open.
// The path and baud rate arguments are ignored.
func WebSocketOpener(wsURL, username, password string, skipSSLVerify bool) Opener {
	return func(string, int) (Port, error) {
		w, err := DialWebSocket(wsURL, username, password, skipSSLVerify)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketPort) ReadUntil(p []byte, deadline time.Time) (int, error) {
	return w.pump.readUntil(p, deadline)
}

func (w *WebSocketPort) SetBaudRate(int) error {
	return ErrFixedBaudRate
}

func (w *WebSocketPort) ResetInputBuffer() error {
	w.pump.discard()
	return nil
}

func (w *WebSocketPort) Close() error {
	var err error
	w.once.Do(func() {
		w.pump.stop()
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}
