package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

type classifierRule struct {
	code      models.ErrorCode
	fragments []string
}

// порядок важен: первое совпадение выигрывает
var classifierRules = []classifierRule{
	{models.CodeAuthorizationRejected, []string{"authorization", "unauthorized"}},
	{models.CodePermissionDenied, []string{"notallowederror", "permissiondeniederror", "permission denied"}},
	{models.CodeDeviceNotFound, []string{"notfounderror", "failed to find the best driver", "no such device"}},
	{models.CodeRoomNotActive, []string{"not currently active"}},
	{models.CodeNotEnrolled, []string{"enrolled"}},
	{models.CodeNetworkUnreachable, []string{
		"network", "econnrefused", "connection refused", "failed to fetch", "no such host", "i/o timeout",
	}},
}

var userMessages = map[models.ErrorCode]string{
	models.CodeTokenMalformed:        "The classroom returned an invalid access token. Please try joining again.",
	models.CodePermissionDenied:      "Access to your device was blocked. Allow access in your system or browser settings and try again.",
	models.CodeDeviceNotFound:        "No matching device was found. Connect one and try again.",
	models.CodeNetworkUnreachable:    "Could not reach the classroom server. Check your connection and retry.",
	models.CodeAuthorizationRejected: "You are not authorized to join this classroom.",
	models.CodeRoomNotActive:         "This live class is not currently active. Wait for the educator to start it.",
	models.CodeNotEnrolled:           "You are not enrolled in this course.",
	models.CodeUnknown:               "Something went wrong while joining the live class.",
}

// ClassifyError maps a low-level failure to the session error taxonomy. It never returns nil for a non-nil err.
func ClassifyError(err error) *models.SessionError {
	if err == nil {
		return nil
	}

	var se *models.SessionError
	if errors.As(err, &se) {
		return se
	}

	return newSessionError(models.ErrorKind{Code: classifyCode(err), Detail: err.Error()}, err)
}

// ClassifyDeviceError is ClassifyError with the device bound to permission and not-found kinds.
func ClassifyDeviceError(err error, source models.TrackSource) *models.SessionError {
	se := ClassifyError(err)
	if se == nil {
		return nil
	}

	switch se.Kind.Code {
	case models.CodePermissionDenied, models.CodeDeviceNotFound:
		if se.Kind.Device == "" {
			kind := se.Kind
			kind.Device = source
			return newSessionError(kind, se.Err)
		}
	}

	return se
}

func IsRecoverable(code models.ErrorCode) bool {
	switch code {
	case models.CodeAuthorizationRejected, models.CodeRoomNotActive, models.CodeNotEnrolled:
		return false
	default:
		return true
	}
}

func classifyCode(err error) models.ErrorCode {
	if errors.Is(err, ErrTokenMalformed) {
		return models.CodeTokenMalformed
	}

	text := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(text, fragment) {
				return rule.code
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.CodeNetworkUnreachable
	}

	return models.CodeUnknown
}

func newSessionError(kind models.ErrorKind, err error) *models.SessionError {
	if kind.Code != models.CodeUnknown {
		kind.Detail = ""
	}

	return &models.SessionError{
		Kind:        kind,
		Message:     userMessages[kind.Code],
		Recoverable: IsRecoverable(kind.Code),
		Err:         err,
	}
}
