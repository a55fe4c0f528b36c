package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain/events"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// signalConn websocket сигналинга с сериализованной записью
type signalConn struct {
	ws *websocket.Conn

	mu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func signalURL(serverURL, token string, autoSubscribe bool) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/rtc")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	q := u.Query()
	q.Set("access_token", token)
	q.Set("auto_subscribe", fmt.Sprint(autoSubscribe))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func dialSignal(ctx context.Context, dialer *websocket.Dialer, target string) (*signalConn, error) {
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, handshakeError(resp)
		}

		return nil, fmt.Errorf("dial signal: %w", err)
	}

	c := &signalConn{ws: ws, closed: make(chan struct{})}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()

	return c, nil
}

// HandshakeError ответ сервера, отклонивший websocket рукопожатие
type HandshakeError struct {
	Status  int
	Message string
}

func (e *HandshakeError) Error() string {
	prefix := "signal handshake rejected"
	if e.Rejected() {
		prefix = "authorization rejected"
	}

	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", prefix, e.Status, http.StatusText(e.Status))
	}

	return fmt.Sprintf("%s: %d %s", prefix, e.Status, e.Message)
}

// Rejected reports whether the server refused the credential itself.
func (e *HandshakeError) Rejected() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ServerError сообщение error от сервера сигналинга
type ServerError struct {
	Message string
	Code    int
}

func (e *ServerError) Error() string {
	return e.Message
}

func handshakeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload events.ErrorEvent
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return &HandshakeError{Status: resp.StatusCode, Message: payload.Message}
	}

	return &HandshakeError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func (c *signalConn) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()

			if err != nil {
				slog.Debug("signal ping failed", slog.Any(constant.Error, err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *signalConn) send(msgType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	if err = c.ws.WriteJSON(events.Message{Type: msgType, Data: raw}); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}

	return nil
}

func (c *signalConn) read() (*events.Message, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg := new(events.Message)
	if err = json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("unmarshal signal message: %w", err)
	}

	return msg, nil
}

func (c *signalConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()

		_ = c.ws.Close()
	})
}

// isNormalClose отличает штатное закрытие от потери соединения
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}

	return false
}
