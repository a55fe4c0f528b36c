package usecase

import (
	"context"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// CredentialFetcher получает JoinCredential для комнаты
type CredentialFetcher interface {
	FetchJoinCredential(ctx context.Context, roomID string) (models.JoinCredential, error)
}

// ProfileFetcher получает профиль участника по identity (email или user id)
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, identity string) (models.Profile, error)
}

type ConnectOptions struct {
	AutoSubscribe bool
}

// RoomConnector opens a transport session to the room service.
type RoomConnector interface {
	Connect(ctx context.Context, url, token string, opts ConnectOptions) (RoomSession, error)
}

// TrackPublisher publishes local tracks into the room.
type TrackPublisher interface {
	PublishTrack(ctx context.Context, track LocalTrack) (sid string, err error)
	UnpublishTrack(ctx context.Context, sid string) error
}

// RoomSession is a single connected transport session.
type RoomSession interface {
	TrackPublisher

	// Events are delivered in emission order and the channel is closed after Disconnected.
	Events() <-chan events.RoomEvent

	// Members returns the current membership, local participant included, in join order.
	Members() []models.RoomMember

	SendData(ctx context.Context, payload []byte) error
	Disconnect() error
}

// LocalTrack is a captured local media track.
type LocalTrack interface {
	ID() string
	Source() models.TrackSource
	Stop() error

	// OnEnded registers a callback fired when the track ends outside of Stop, e.g. the OS stops screen capture.
	OnEnded(func())
}

// MediaDevices is the only component allowed to acquire local devices.
type MediaDevices interface {
	// Probe acquires and immediately releases the device to surface permission errors.
	Probe(ctx context.Context, source models.TrackSource) error
	Capture(ctx context.Context, source models.TrackSource) (LocalTrack, error)
	CaptureDisplay(ctx context.Context) (LocalTrack, error)
}
