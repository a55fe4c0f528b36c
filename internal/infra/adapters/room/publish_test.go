package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

type testTrack struct {
	source models.TrackSource
	track  *webrtc.TrackLocalStaticSample
}

func newTestTrack(t *testing.T, source models.TrackSource) *testTrack {
	t.Helper()

	mime := webrtc.MimeTypeOpus
	if source.IsVideo() {
		mime = webrtc.MimeTypeVP8
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, source.String(), "me")
	require.NoError(t, err)

	return &testTrack{source: source, track: track}
}

func (t *testTrack) ID() string { return t.track.ID() }
func (t *testTrack) Source() models.TrackSource { return t.source }
func (t *testTrack) Stop() error { return nil }
func (t *testTrack) OnEnded(func()) {}
func (t *testTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// awaitEvent skips events until match returns true.
func awaitEvent(t *testing.T, room usecase.RoomSession, match func(events.RoomEvent) bool) events.RoomEvent {
	t.Helper()

	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-room.Events():
			require.True(t, ok, "event channel closed")

			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("expected room event did not arrive")
			return nil
		}
	}
}

func localPublished(source models.TrackSource) func(events.RoomEvent) bool {
	return func(ev events.RoomEvent) bool {
		e, ok := ev.(events.LocalTrackPublished)
		return ok && e.Source == source
	}
}

func negotiatedSDP(s *Session) (string, bool) {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if pc == nil || s.negPending || pc.SignalingState() != webrtc.SignalingStateStable {
		return "", false
	}

	desc := pc.CurrentLocalDescription()
	if desc == nil {
		return "", false
	}

	return desc.SDP, true
}

func TestPublishBackToBackWhileOfferUnanswered(t *testing.T) {
	sfu := newFakeSFU(t, withNegotiation(150*time.Millisecond))
	room := connect(t, sfu, 1)
	defer room.Disconnect()
	sfu.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cameraSID, err := room.PublishTrack(ctx, newTestTrack(t, models.SourceCamera))
	require.NoError(t, err)

	micSID, err := room.PublishTrack(ctx, newTestTrack(t, models.SourceMicrophone))
	require.NoError(t, err)

	assert.NotEqual(t, cameraSID, micSID)

	local := room.Members()[0]
	assert.True(t, local.Publishes(models.SourceCamera))
	assert.True(t, local.Publishes(models.SourceMicrophone))

	// отложенный offer уходит после ответа и несёт оба трека
	sess := room.(*Session)
	assert.Eventually(t, func() bool {
		sdp, ok := negotiatedSDP(sess)
		return ok && strings.Count(sdp, "m=video") == 1 && strings.Count(sdp, "m=audio") == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPublishRejectedByServer(t *testing.T) {
	sfu := newFakeSFU(t, withNegotiation(10*time.Millisecond), withRejectedSource(models.SourceScreenShare))
	room := connect(t, sfu, 1)
	defer room.Disconnect()
	sfu.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := room.PublishTrack(ctx, newTestTrack(t, models.SourceScreenShare))
	require.Error(t, err)

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, "publishing not allowed", serverErr.Message)

	assert.False(t, room.Members()[0].Publishes(models.SourceScreenShare))
}

func TestUnpublishTrack(t *testing.T) {
	sfu := newFakeSFU(t, withNegotiation(10*time.Millisecond))
	room := connect(t, sfu, 1)
	defer room.Disconnect()
	sfu.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sid, err := room.PublishTrack(ctx, newTestTrack(t, models.SourceMicrophone))
	require.NoError(t, err)
	awaitEvent(t, room, localPublished(models.SourceMicrophone))

	require.NoError(t, room.UnpublishTrack(ctx, sid))

	msg := sfu.awaitMessage(msgUnpublish)
	var req events.UnpublishRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, sid, req.SID)

	assert.Equal(t,
		events.TrackUnpublished{Identity: "me@school.edu", Source: models.SourceMicrophone},
		awaitEvent(t, room, func(ev events.RoomEvent) bool {
			_, ok := ev.(events.TrackUnpublished)
			return ok
		}),
	)
	assert.False(t, room.Members()[0].HasAudio())

	assert.Error(t, room.UnpublishTrack(ctx, sid))
}

func TestRepublishAfterReconnect(t *testing.T) {
	sfu := newFakeSFU(t, withNegotiation(10*time.Millisecond))
	room := connect(t, sfu, 3)
	defer room.Disconnect()
	ws := sfu.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := room.PublishTrack(ctx, newTestTrack(t, models.SourceCamera))
	require.NoError(t, err)
	awaitEvent(t, room, localPublished(models.SourceCamera))

	require.NoError(t, ws.UnderlyingConn().Close())

	awaitEvent(t, room, func(ev events.RoomEvent) bool {
		_, ok := ev.(events.Reconnected)
		return ok
	})
	sfu.nextConn()

	republished := awaitEvent(t, room, localPublished(models.SourceCamera)).(events.LocalTrackPublished)
	assert.NotEqual(t, handle, republished.SID)
	assert.True(t, room.Members()[0].Publishes(models.SourceCamera))

	// исходный handle продолжает работать, серверу уходит новый sid
	require.NoError(t, room.UnpublishTrack(ctx, handle))

	msg := sfu.awaitMessage(msgUnpublish)
	var req events.UnpublishRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, republished.SID, req.SID)
}

func TestOnDataEmitsDataReceived(t *testing.T) {
	s := newSession(testConnector(1), "ws://unused")
	defer s.cancel()

	s.onData(webrtc.DataChannelMessage{
		Data: []byte(`{"sender":"pupil@school.edu","payload":{"type":"chat","text":"hi"}}`),
	})

	select {
	case ev := <-s.events:
		received, ok := ev.(events.DataReceived)
		require.True(t, ok)
		assert.Equal(t, "pupil@school.edu", received.SenderIdentity)
		assert.JSONEq(t, `{"type":"chat","text":"hi"}`, string(received.Payload))
	default:
		t.Fatal("no data event")
	}

	s.onData(webrtc.DataChannelMessage{Data: []byte("not json")})

	select {
	case ev := <-s.events:
		t.Fatalf("malformed packet produced %T", ev)
	default:
	}
}
