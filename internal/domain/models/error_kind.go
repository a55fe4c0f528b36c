package models

import "fmt"

type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeTokenMalformed
	CodePermissionDenied
	CodeDeviceNotFound
	CodeNetworkUnreachable
	CodeAuthorizationRejected
	CodeRoomNotActive
	CodeNotEnrolled
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTokenMalformed:
		return "token_malformed"
	case CodePermissionDenied:
		return "permission_denied"
	case CodeDeviceNotFound:
		return "device_not_found"
	case CodeNetworkUnreachable:
		return "network_unreachable"
	case CodeAuthorizationRejected:
		return "authorization_rejected"
	case CodeRoomNotActive:
		return "room_not_active"
	case CodeNotEnrolled:
		return "not_enrolled"
	default:
		return "unknown"
	}
}

// ErrorKind tagged union: Device is set for PermissionDenied and DeviceNotFound, Detail for Unknown.
type ErrorKind struct {
	Code   ErrorCode
	Device TrackSource
	Detail string
}

func (k ErrorKind) String() string {
	switch {
	case k.Device != "":
		return fmt.Sprintf("%s(%s)", k.Code, k.Device)
	case k.Code == CodeUnknown && k.Detail != "":
		return fmt.Sprintf("%s(%s)", k.Code, k.Detail)
	default:
		return k.Code.String()
	}
}

// SessionError классифицированная ошибка с текстом для пользователя
type SessionError struct {
	Kind        ErrorKind
	Message     string
	Recoverable bool
	Err         error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
