package room

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/usecase"
)

const (
	dataChannelLabel = "_reliable"

	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// Connector открывает сессии к SFU: websocket сигналинг + pion peer connection
type Connector struct {
	iceServers        []webrtc.ICEServer
	reconnectAttempts uint64
	attemptTimeout    time.Duration

	dialer *websocket.Dialer
}

func NewConnector(cfg *config.Config) *Connector {
	return &Connector{
		iceServers:        cfg.ICE.Servers(),
		reconnectAttempts: cfg.ReconnectAttempts,
		attemptTimeout:    cfg.ConnectTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (c *Connector) Connect(
	ctx context.Context,
	serverURL, token string,
	opts usecase.ConnectOptions,
) (usecase.RoomSession, error) {
	target, err := signalURL(serverURL, token, opts.AutoSubscribe)
	if err != nil {
		return nil, err
	}

	s := newSession(c, target)

	if err = s.establish(ctx); err != nil {
		s.cancel()
		return nil, err
	}

	slog.Info("room connected", slog.String(constant.ServerURL, serverURL))

	s.emit(events.Connected{})

	go s.run()

	return s, nil
}

func (c *Connector) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return pc, nil
}
