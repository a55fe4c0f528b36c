package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`

	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`
	ProfileTimeout    time.Duration `env:"PROFILE_TIMEOUT" envDefault:"5s"`
	ReconnectAttempts uint64        `env:"RECONNECT_ATTEMPTS" envDefault:"5"`

	API   APIConfig
	ICE   ICEConfig
	Media MediaConfig
}

type APIConfig struct {
	BaseURL   string        `env:"API_BASE_URL,required,notEmpty"`
	AuthToken string        `env:"API_AUTH_TOKEN"`
	Timeout   time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
}

type ICEConfig struct {
	StunURL string `env:"STUN_URL" envDefault:"stun:stun.l.google.com:19302"`

	// TurnHost - если пустой, TURN не используется
	TurnHost     string `env:"TURN_HOST"`
	TurnUsername string `env:"TURN_USERNAME"`
	TurnPassword string `env:"TURN_PASSWORD"`
}

type MediaConfig struct {
	Width        int     `env:"VIDEO_WIDTH" envDefault:"640"`
	Height       int     `env:"VIDEO_HEIGHT" envDefault:"480"`
	FrameRate    float32 `env:"VIDEO_FRAME_RATE" envDefault:"30"`
	VideoBitRate int     `env:"VIDEO_BITRATE" envDefault:"500000"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}

// Servers собирает STUN и TURN (udp+tcp) сервера для peer connection
func (i ICEConfig) Servers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if i.StunURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{i.StunURL}})
	}

	if i.TurnHost == "" {
		return servers
	}

	return append(servers,
		webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", i.TurnHost)},
			Username:   i.TurnUsername,
			Credential: i.TurnPassword,
		},
		webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", i.TurnHost)},
			Username:   i.TurnUsername,
			Credential: i.TurnPassword,
		},
	)
}
