package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

const testToken = "header.payload.signature"

// fakeSFU минимальный сервер сигналинга: отвечает joined и пишет входящие сообщения в канал
type fakeSFU struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// answerDelay > 0 включает ответы на offer настоящим pion peer с задержкой
	answerDelay  time.Duration
	ackPublishes bool
	rejectSource string

	reject   atomic.Int32
	firstMsg atomic.Value
	nextSID  atomic.Int32

	conns    chan *websocket.Conn
	received chan events.Message
}

type sfuOption func(*fakeSFU)

// withNegotiation makes the SFU answer offers after delay and acknowledge publish requests.
func withNegotiation(delay time.Duration) sfuOption {
	return func(f *fakeSFU) {
		f.answerDelay = delay
		f.ackPublishes = true
	}
}

func withRejectedSource(source models.TrackSource) sfuOption {
	return func(f *fakeSFU) {
		f.rejectSource = source.String()
	}
}

func newFakeSFU(t *testing.T, opts ...sfuOption) *fakeSFU {
	f := &fakeSFU{
		t:        t,
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan events.Message, 512),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.firstMsg.Store(message(t, msgJoined, events.JoinedEvent{
		Participant:  events.MemberInfo{Identity: "me@school.edu", Name: "Me"},
		Participants: []events.MemberInfo{{Identity: "teacher@school.edu", Sources: []string{"camera"}}},
	}))

	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeSFU) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeSFU) handle(w http.ResponseWriter, r *http.Request) {
	if code := f.reject.Load(); code != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(code))
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
		return
	}

	if r.URL.Path != "/rtc" || r.URL.Query().Get("access_token") != testToken {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if err = ws.WriteJSON(f.firstMsg.Load()); err != nil {
		return
	}

	var (
		writeMu sync.Mutex
		peer    *webrtc.PeerConnection
	)

	write := func(msgType string, data any) {
		raw, _ := json.Marshal(data)

		writeMu.Lock()
		defer writeMu.Unlock()

		_ = ws.WriteJSON(events.Message{Type: msgType, Data: raw})
	}

	if f.answerDelay > 0 {
		peer, err = webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return
		}
		defer peer.Close()
	}

	f.conns <- ws

	for {
		var msg events.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case f.received <- msg:
		default:
		}

		switch {
		case msg.Type == msgOffer && peer != nil:
			var offer events.SdpEvent
			_ = json.Unmarshal(msg.Data, &offer)

			// ответ строится сразу, чтобы порядок offer/answer сохранялся
			if err := peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
				continue
			}

			answer, err := peer.CreateAnswer(nil)
			if err != nil {
				continue
			}

			if err = peer.SetLocalDescription(answer); err != nil {
				continue
			}

			time.AfterFunc(f.answerDelay, func() {
				write(msgAnswer, events.SdpEvent{SDP: answer.SDP})
			})

		case msg.Type == msgPublish && f.ackPublishes:
			var req events.PublishRequest
			_ = json.Unmarshal(msg.Data, &req)

			if req.Source == f.rejectSource {
				write(msgError, events.ErrorEvent{Message: "publishing not allowed", RequestID: req.RequestID})
				continue
			}

			write(msgPublished, events.PublishedEvent{
				RequestID: req.RequestID,
				TrackID:   req.TrackID,
				SID:       fmt.Sprintf("TR_%d", f.nextSID.Add(1)),
			})
		}
	}
}

func (f *fakeSFU) nextConn() *websocket.Conn {
	f.t.Helper()

	select {
	case ws := <-f.conns:
		return ws
	case <-time.After(5 * time.Second):
		f.t.Fatal("no signal connection")
		return nil
	}
}

// awaitMessage skips offers and candidates until a message of the given type arrives.
func (f *fakeSFU) awaitMessage(msgType string) events.Message {
	f.t.Helper()

	timeout := time.After(5 * time.Second)

	for {
		select {
		case msg := <-f.received:
			if msg.Type == msgType {
				return msg
			}
		case <-timeout:
			f.t.Fatalf("no %q message", msgType)
			return events.Message{}
		}
	}
}

func message(t *testing.T, msgType string, data any) events.Message {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	return events.Message{Type: msgType, Data: raw}
}

func testConnector(attempts uint64) *Connector {
	return NewConnector(&config.Config{
		ConnectTimeout:    2 * time.Second,
		ReconnectAttempts: attempts,
	})
}

func connect(t *testing.T, sfu *fakeSFU, attempts uint64) usecase.RoomSession {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	room, err := testConnector(attempts).Connect(ctx, sfu.url(), testToken, usecase.ConnectOptions{AutoSubscribe: true})
	require.NoError(t, err)

	return room
}

func nextEvent(t *testing.T, room usecase.RoomSession) events.RoomEvent {
	t.Helper()

	select {
	case ev, ok := <-room.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no room event")
		return nil
	}
}

func drainUntilClosed(t *testing.T, room usecase.RoomSession) []events.RoomEvent {
	t.Helper()

	var out []events.RoomEvent
	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-room.Events():
			if !ok {
				return out
			}

			out = append(out, ev)
		case <-timeout:
			t.Fatal("event channel not closed")
			return out
		}
	}
}

func TestConnectTracksRoster(t *testing.T) {
	sfu := newFakeSFU(t)
	room := connect(t, sfu, 1)
	ws := sfu.nextConn()

	assert.Equal(t, events.Connected{}, nextEvent(t, room))

	members := room.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "me@school.edu", members[0].Identity)
	assert.True(t, members[0].IsLocal)
	assert.True(t, members[1].Publishes(models.SourceCamera))

	sfu.awaitMessage(msgOffer)

	require.NoError(t, ws.WriteJSON(message(t, msgParticipantJoined, events.ParticipantEvent{
		Participant: events.MemberInfo{Identity: "pupil@school.edu"},
	})))
	assert.Equal(t, events.ParticipantConnected{Identity: "pupil@school.edu"}, nextEvent(t, room))

	require.NoError(t, ws.WriteJSON(message(t, msgTrackPublished, events.TrackEvent{
		Identity: "pupil@school.edu", Source: "microphone", SID: "TR_1",
	})))
	assert.Equal(t, events.TrackPublished{Identity: "pupil@school.edu", Source: models.SourceMicrophone}, nextEvent(t, room))

	require.NoError(t, ws.WriteJSON(message(t, msgParticipantLeft, events.ParticipantEvent{
		Participant: events.MemberInfo{Identity: "teacher@school.edu"},
	})))
	assert.Equal(t, events.ParticipantDisconnected{Identity: "teacher@school.edu"}, nextEvent(t, room))

	members = room.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "pupil@school.edu", members[1].Identity)
	assert.True(t, members[1].HasAudio())

	require.NoError(t, room.Disconnect())
	sfu.awaitMessage(msgLeave)

	rest := drainUntilClosed(t, room)
	require.NotEmpty(t, rest)
	assert.Equal(t, events.Disconnected{}, rest[len(rest)-1])
}

func TestConnectRejectedHandshake(t *testing.T) {
	sfu := newFakeSFU(t)
	sfu.reject.Store(http.StatusUnauthorized)

	_, err := testConnector(1).Connect(context.Background(), sfu.url(), testToken, usecase.ConnectOptions{})
	require.Error(t, err)

	var handshakeErr *HandshakeError
	require.True(t, errors.As(err, &handshakeErr))
	assert.True(t, handshakeErr.Rejected())
	assert.Contains(t, err.Error(), "token expired")

	kind := usecase.ClassifyError(err).Kind
	assert.Equal(t, models.CodeAuthorizationRejected, kind.Code)
}

func TestConnectServerErrorBeforeJoin(t *testing.T) {
	sfu := newFakeSFU(t)
	sfu.firstMsg.Store(message(t, msgError, events.ErrorEvent{Message: "room is not currently active"}))

	_, err := testConnector(1).Connect(context.Background(), sfu.url(), testToken, usecase.ConnectOptions{})
	require.Error(t, err)

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, models.CodeRoomNotActive, usecase.ClassifyError(err).Kind.Code)
}

func TestSignalLossReconnects(t *testing.T) {
	sfu := newFakeSFU(t)
	room := connect(t, sfu, 3)
	ws := sfu.nextConn()

	assert.Equal(t, events.Connected{}, nextEvent(t, room))

	require.NoError(t, ws.UnderlyingConn().Close())

	assert.Equal(t, events.Reconnecting{}, nextEvent(t, room))
	sfu.nextConn()

	for {
		ev := nextEvent(t, room)
		if _, ok := ev.(events.Reconnected); ok {
			break
		}
	}

	assert.Len(t, room.Members(), 2)

	require.NoError(t, room.Disconnect())
	drainUntilClosed(t, room)
}

func TestReconnectRejectedIsTerminal(t *testing.T) {
	sfu := newFakeSFU(t)
	room := connect(t, sfu, 3)
	ws := sfu.nextConn()

	assert.Equal(t, events.Connected{}, nextEvent(t, room))

	sfu.reject.Store(http.StatusUnauthorized)
	require.NoError(t, ws.UnderlyingConn().Close())

	rest := drainUntilClosed(t, room)
	require.NotEmpty(t, rest)
	assert.Equal(t, events.Reconnecting{}, rest[0])

	last, ok := rest[len(rest)-1].(events.Disconnected)
	require.True(t, ok)
	require.Error(t, last.Err)
	assert.Equal(t, models.CodeAuthorizationRejected, usecase.ClassifyError(last.Err).Kind.Code)
}

func TestServerCloseEndsSessionWithReason(t *testing.T) {
	sfu := newFakeSFU(t)
	room := connect(t, sfu, 3)
	ws := sfu.nextConn()

	assert.Equal(t, events.Connected{}, nextEvent(t, room))

	require.NoError(t, ws.WriteJSON(message(t, msgError, events.ErrorEvent{Message: "room is not currently active"})))
	require.NoError(t, ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
	))

	rest := drainUntilClosed(t, room)
	require.NotEmpty(t, rest)

	last, ok := rest[len(rest)-1].(events.Disconnected)
	require.True(t, ok)
	assert.EqualError(t, last.Err, "room is not currently active")
}

func TestSendDataWaitsForOpenChannel(t *testing.T) {
	sfu := newFakeSFU(t)
	room := connect(t, sfu, 1)
	sfu.nextConn()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// канал данных не открыт без ответа SFU
	err := room.SendData(ctx, []byte(`{"type":"chat"}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, room.Disconnect())

	err = room.SendData(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
}
