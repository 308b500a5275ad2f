package liveclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// wsConnAdapter adapts *websocket.Conn to the Conn interface so the reactor never imports
// gorilla/websocket directly outside of this file.
type wsConnAdapter struct {
	conn *websocket.Conn
}

func (a *wsConnAdapter) ReadMessage() (int, []byte, error) { return a.conn.ReadMessage() }
func (a *wsConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}
func (a *wsConnAdapter) Close() error { return a.conn.Close() }

// NewProductionDialer returns a Dialer that connects to the live Binance combined stream over
// TLS 1.2+ and writes the SUBSCRIBE frame per §4.5 step 1, tolerating the config's dev-only
// certificate bypass (§9 resolved design note).
func NewProductionDialer(insecureSkipVerify bool) Dialer {
	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         "stream.binance.com",
			InsecureSkipVerify: insecureSkipVerify,
		},
	}

	return func(ctx context.Context, params []string) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", wsURL, err)
		}

		frame := struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
			ID     int      `json:"id"`
		}{Method: "SUBSCRIBE", Params: params, ID: 1}

		payload, err := json.Marshal(frame)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("marshal subscribe frame: %w", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("write subscribe frame: %w", err)
		}
		return &wsConnAdapter{conn: conn}, nil
	}
}
