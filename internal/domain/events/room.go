package events

import "github.com/qrave1/LiveClass/internal/domain/models"

// RoomEvent is the tagged union of everything the room transport emits.
type RoomEvent interface {
	roomEvent()
}

type Connected struct{}

type Reconnecting struct{}

type Reconnected struct{}

// Disconnected is terminal. Err is nil for a voluntary disconnect.
type Disconnected struct {
	Err error
}

type ParticipantConnected struct {
	Identity string
}

type ParticipantDisconnected struct {
	Identity string
}

type TrackPublished struct {
	Identity string
	Source   models.TrackSource
}

type TrackUnpublished struct {
	Identity string
	Source   models.TrackSource
}

type TrackSubscribed struct {
	Identity string
	Source   models.TrackSource
}

type TrackUnsubscribed struct {
	Identity string
	Source   models.TrackSource
}

type LocalTrackPublished struct {
	Source models.TrackSource
	SID    string
}

type DataReceived struct {
	Payload        []byte
	SenderIdentity string
}

func (Connected) roomEvent()               {}
func (Reconnecting) roomEvent()            {}
func (Reconnected) roomEvent()             {}
func (Disconnected) roomEvent()            {}
func (ParticipantConnected) roomEvent()    {}
func (ParticipantDisconnected) roomEvent() {}
func (TrackPublished) roomEvent()          {}
func (TrackUnpublished) roomEvent()        {}
func (TrackSubscribed) roomEvent()         {}
func (TrackUnsubscribed) roomEvent()       {}
func (LocalTrackPublished) roomEvent()     {}
func (DataReceived) roomEvent()            {}

// RosterChanged reports whether the event alters membership or track publication state.
func RosterChanged(ev RoomEvent) bool {
	switch ev.(type) {
	case ParticipantConnected, ParticipantDisconnected,
		TrackPublished, TrackUnpublished,
		TrackSubscribed, TrackUnsubscribed,
		LocalTrackPublished, Reconnected:
		return true
	default:
		return false
	}
}
