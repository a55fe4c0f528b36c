package dto

import "github.com/qrave1/LiveClass/internal/domain/models"

type JoinRequest struct {
	RoomID     string `json:"room_id"`
	Privileged bool   `json:"privileged"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

type SessionResponse struct {
	State      string                 `json:"state"`
	Phase      string                 `json:"phase"`
	RoomID     string                 `json:"room_id,omitempty"`
	Privileged bool                   `json:"privileged"`
	Media      models.LocalMediaState `json:"media"`
	LastError  *ErrorResponse         `json:"last_error,omitempty"`
}

func NewErrorResponse(se *models.SessionError) *ErrorResponse {
	if se == nil {
		return nil
	}

	return &ErrorResponse{
		Error:       se.Message,
		Kind:        se.Kind.String(),
		Recoverable: se.Recoverable,
	}
}
