package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

const minTokenLength = 20

var ErrTokenMalformed = errors.New("join token malformed")

// ValidateCredential checks the credential shape before any network call and returns it with a websocket server URL.
func ValidateCredential(cred models.JoinCredential) (models.JoinCredential, error) {
	token := strings.TrimSpace(cred.Token)
	serverURL := strings.TrimSpace(cred.ServerURL)

	if token == "" {
		return cred, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	if serverURL == "" {
		return cred, fmt.Errorf("%w: empty server url", ErrTokenMalformed)
	}

	if strings.TrimSpace(cred.RoomName) == "" {
		return cred, fmt.Errorf("%w: empty room name", ErrTokenMalformed)
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return cred, fmt.Errorf("%w: expected 3 segments, got %d", ErrTokenMalformed, len(segments))
	}

	for i, segment := range segments {
		if segment == "" {
			return cred, fmt.Errorf("%w: segment %d is empty", ErrTokenMalformed, i)
		}
	}

	if len(token) <= minTokenLength {
		return cred, fmt.Errorf("%w: token too short", ErrTokenMalformed)
	}

	return models.JoinCredential{
		Token:     token,
		ServerURL: NormalizeServerURL(serverURL),
		RoomName:  cred.RoomName,
	}, nil
}

// NormalizeServerURL coerces the server URL to a websocket scheme: ws:// and wss:// are kept, anything else becomes wss://.
func NormalizeServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return raw
	case strings.HasPrefix(lower, "https://"):
		return "wss://" + raw[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return "wss://" + raw[len("http://"):]
	default:
		return "wss://" + raw
	}
}

// TokenClaims what we can read from the token without the signing key
type TokenClaims struct {
	Identity  string
	ExpiresAt time.Time
}

// ParseTokenClaims decodes the token payload without verifying it. The result is informational only.
func ParseTokenClaims(token string) (TokenClaims, bool) {
	claims := &jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, false
	}

	tc := TokenClaims{Identity: claims.Subject}
	if claims.ExpiresAt != nil {
		tc.ExpiresAt = claims.ExpiresAt.Time
	}

	return tc, true
}
