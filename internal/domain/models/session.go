package models

import "fmt"

// SessionConfig параметры подключения к комнате, неизменяемые на время сессии
type SessionConfig struct {
	RoomID     string `json:"room_id"`
	Privileged bool   `json:"privileged"`
}

// JoinCredential выдаётся бэкендом на каждую попытку подключения и нигде не сохраняется
type JoinCredential struct {
	Token     string `json:"token"`
	ServerURL string `json:"url"`
	RoomName  string `json:"roomName"`
}

type ConnectionPhase int

const (
	PhaseIdle ConnectionPhase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseDisconnected
	PhaseFailed
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ConnectionState is exactly one phase at a time. Reason is set only for PhaseFailed.
type ConnectionState struct {
	Phase  ConnectionPhase
	Reason *ErrorKind
}

func (s ConnectionState) String() string {
	if s.Phase == PhaseFailed && s.Reason != nil {
		return fmt.Sprintf("failed(%s)", s.Reason)
	}

	return s.Phase.String()
}

// Active reports whether a transport connection is held or being established.
func (s ConnectionState) Active() bool {
	switch s.Phase {
	case PhaseConnecting, PhaseConnected, PhaseReconnecting:
		return true
	default:
		return false
	}
}

func StateFailed(kind ErrorKind) ConnectionState {
	return ConnectionState{Phase: PhaseFailed, Reason: &kind}
}
