package events

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message - общий конверт сигналинга
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MemberInfo - участник комнаты в сообщениях сигналинга
type MemberInfo struct {
	Identity string   `json:"identity"`
	Name     string   `json:"name"`
	Sources  []string `json:"sources,omitempty"`
}

// JoinedEvent - ответ сервера на подключение: локальный участник и текущий состав комнаты
type JoinedEvent struct {
	Participant  MemberInfo   `json:"participant"`
	Participants []MemberInfo `json:"participants"`
}

// ParticipantEvent - участник подключился или вышел
type ParticipantEvent struct {
	Participant MemberInfo `json:"participant"`
}

// TrackEvent - публикация или снятие трека
type TrackEvent struct {
	Identity string `json:"identity"`
	Source   string `json:"source"`
	SID      string `json:"sid"`
	TrackID  string `json:"track_id,omitempty"`
}

// PublishRequest - запрос на публикацию локального трека
type PublishRequest struct {
	RequestID string `json:"request_id"`
	TrackID   string `json:"track_id"`
	Source    string `json:"source"`
}

// PublishedEvent - подтверждение публикации
type PublishedEvent struct {
	RequestID string `json:"request_id"`
	TrackID   string `json:"track_id"`
	SID       string `json:"sid"`
}

// UnpublishRequest - снятие локального трека
type UnpublishRequest struct {
	SID string `json:"sid"`
}

// SdpEvent - offer/answer
type SdpEvent struct {
	SDP string `json:"sdp"`
}

// IceCandidateEvent - ICE кандидаты
type IceCandidateEvent struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ErrorEvent - ошибка от сервера
type ErrorEvent struct {
	Message   string `json:"message"`
	Code      int    `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// DataPacket - конверт data channel, sender заполняет SFU
type DataPacket struct {
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload"`
}
