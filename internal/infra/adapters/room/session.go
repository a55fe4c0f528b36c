package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

const (
	msgJoined            = "joined"
	msgParticipantJoined = "participant_joined"
	msgParticipantLeft   = "participant_left"
	msgTrackPublished    = "track_published"
	msgTrackUnpublished  = "track_unpublished"
	msgPublished         = "published"
	msgOffer             = "offer"
	msgAnswer            = "answer"
	msgCandidate         = "candidate"
	msgError             = "error"
	msgPublish           = "publish"
	msgUnpublish         = "unpublish"
	msgLeave             = "leave"

	eventBuffer = 64
)

var (
	ErrNotConnected  = errors.New("room transport is not connected")
	ErrSessionClosed = errors.New("room session closed")
)

type remoteTrack struct {
	identity string
	source   models.TrackSource
}

type publication struct {
	track   webrtc.TrackLocal
	trackID string
	source  models.TrackSource

	// sid текущий серверный sid, после переподключения меняется
	sid    string
	sender *webrtc.RTPSender
}

type publishResult struct {
	sid string
	err error
}

// Session одна сессия транспорта комнаты
type Session struct {
	connector *Connector
	target    string

	ctx    context.Context
	cancel context.CancelFunc

	events     chan events.RoomEvent
	emitMu     sync.RWMutex
	finished   bool
	finishOnce sync.Once

	// negMu сериализует offer/answer, negPending под ним же
	negMu      sync.Mutex
	negPending bool

	mu           sync.Mutex
	conn         *signalConn
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	dcOpen       chan struct{}
	roster       *roster
	remote       map[string]remoteTrack
	publications map[string]*publication
	pending      map[string]chan publishResult
	candidates   []webrtc.ICECandidateInit
	serverErr    error
}

func newSession(c *Connector, target string) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		connector:    c,
		target:       target,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan events.RoomEvent, eventBuffer),
		remote:       make(map[string]remoteTrack),
		publications: make(map[string]*publication),
		pending:      make(map[string]chan publishResult),
	}
}

func (s *Session) Events() <-chan events.RoomEvent {
	return s.events
}

func (s *Session) Members() []models.RoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roster == nil {
		return nil
	}

	return s.roster.list()
}

func (s *Session) SendData(ctx context.Context, payload []byte) error {
	raw, err := json.Marshal(events.DataPacket{Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal data packet: %w", err)
	}

	s.mu.Lock()
	dc, open := s.dc, s.dcOpen
	s.mu.Unlock()

	if dc == nil {
		return ErrNotConnected
	}

	select {
	case <-open:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}

	if err = dc.Send(raw); err != nil {
		return fmt.Errorf("send data: %w", err)
	}

	return nil
}

func (s *Session) PublishTrack(ctx context.Context, track usecase.LocalTrack) (string, error) {
	local, ok := track.(interface{ TrackLocal() webrtc.TrackLocal })
	if !ok {
		return "", fmt.Errorf("track %s has no webrtc track", track.ID())
	}

	pub := &publication{track: local.TrackLocal(), trackID: track.ID(), source: track.Source()}

	if err := s.publish(ctx, pub); err != nil {
		return "", err
	}

	// sid первой публикации остаётся ключом для UnpublishTrack
	handle := pub.sid

	s.mu.Lock()
	s.publications[handle] = pub
	s.mu.Unlock()

	return handle, nil
}

func (s *Session) UnpublishTrack(ctx context.Context, sid string) error {
	s.mu.Lock()
	pub, ok := s.publications[sid]
	delete(s.publications, sid)
	pc, conn := s.pc, s.conn

	var sender *webrtc.RTPSender
	var serverSID string
	if ok {
		sender, serverSID = pub.sender, pub.sid
		pub.sender = nil
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown publication %s", sid)
	}

	if pc == nil {
		return nil
	}

	if sender != nil {
		if err := pc.RemoveTrack(sender); err != nil {
			slog.Warn("remove track", slog.Any(constant.Error, err), slog.String(constant.TrackSID, sid))
		}
	}

	if err := conn.send(msgUnpublish, events.UnpublishRequest{SID: serverSID}); err != nil {
		return err
	}

	s.mu.Lock()
	local := s.roster.local
	changed := s.roster.unpublish(local, pub.source)
	s.mu.Unlock()

	if changed {
		s.emit(events.TrackUnpublished{Identity: local, Source: pub.source})
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return s.negotiate()
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := conn.send(msgLeave, struct{}{}); err != nil {
			slog.Debug("send leave", slog.Any(constant.Error, err))
		}
	}

	s.finish(nil)

	return nil
}

// establish подключает сигналинг, ждёт joined и поднимает peer connection
func (s *Session) establish(ctx context.Context) error {
	conn, err := dialSignal(ctx, s.connector.dialer, s.target)
	if err != nil {
		return err
	}

	joined, err := awaitJoined(ctx, conn)
	if err != nil {
		conn.close()
		return err
	}

	pc, err := s.connector.newPeerConnection()
	if err != nil {
		conn.close()
		return err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		conn.close()
		return fmt.Errorf("create data channel: %w", err)
	}

	dcOpen := make(chan struct{})
	var openOnce sync.Once

	dc.OnOpen(func() {
		openOnce.Do(func() { close(dcOpen) })
	})
	dc.OnMessage(s.onData)

	pc.OnTrack(s.onTrack)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}

		if err := conn.send(msgCandidate, events.IceCandidateEvent{Candidate: c.ToJSON()}); err != nil {
			slog.Debug("send ice candidate", slog.Any(constant.Error, err))
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("peer connection state", slog.String(constant.State, state.String()))

		// сигналинг переподключит всё целиком
		if state == webrtc.PeerConnectionStateFailed {
			conn.close()
		}
	})

	s.mu.Lock()
	s.conn, s.pc, s.dc, s.dcOpen = conn, pc, dc, dcOpen
	s.roster = newRoster(joined)
	s.remote = make(map[string]remoteTrack)
	s.candidates = nil
	s.serverErr = nil
	s.mu.Unlock()

	if err = s.negotiate(); err != nil {
		s.teardownTransport(err)
		return err
	}

	return nil
}

func awaitJoined(ctx context.Context, conn *signalConn) (events.JoinedEvent, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.ws.SetReadDeadline(deadline)
		defer conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	}

	for {
		msg, err := conn.read()
		if err != nil {
			if ctx.Err() != nil {
				return events.JoinedEvent{}, ctx.Err()
			}

			return events.JoinedEvent{}, fmt.Errorf("await joined: %w", err)
		}

		switch msg.Type {
		case msgJoined:
			var joined events.JoinedEvent
			if err = json.Unmarshal(msg.Data, &joined); err != nil {
				return events.JoinedEvent{}, fmt.Errorf("unmarshal joined: %w", err)
			}

			return joined, nil

		case msgError:
			var e events.ErrorEvent
			if err = json.Unmarshal(msg.Data, &e); err != nil {
				return events.JoinedEvent{}, fmt.Errorf("unmarshal error event: %w", err)
			}

			return events.JoinedEvent{}, &ServerError{Message: e.Message, Code: e.Code}

		default:
			slog.Debug("skip signal message before join", slog.String(constant.Event, msg.Type))
		}
	}
}

// run читает сигналинг и переподключается при потере соединения
func (s *Session) run() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(conn)

		if s.ctx.Err() != nil {
			return
		}

		if isNormalClose(err) {
			s.mu.Lock()
			reason := s.serverErr
			s.mu.Unlock()

			if reason == nil {
				reason = fmt.Errorf("signal closed by server: %w", err)
			}

			s.finish(reason)
			return
		}

		slog.Warn("signal connection lost", slog.Any(constant.Error, err))

		s.emit(events.Reconnecting{})
		s.teardownTransport(ErrNotConnected)

		if err = s.reconnect(); err != nil {
			s.finish(fmt.Errorf("reconnect: %w", err))
			return
		}

		slog.Info("room reconnected")

		s.emit(events.Reconnected{})

		go s.republish()
	}
}

func (s *Session) readLoop(conn *signalConn) error {
	for {
		msg, err := conn.read()
		if err != nil {
			return err
		}

		if err = s.handleMessage(msg); err != nil {
			slog.Error("handle signal message", slog.Any(constant.Error, err), slog.String(constant.Event, msg.Type))
		}
	}
}

func (s *Session) handleMessage(msg *events.Message) error {
	switch msg.Type {
	case msgParticipantJoined:
		var e events.ParticipantEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal participant event: %w", err)
		}

		s.mu.Lock()
		added := s.roster.join(e.Participant)
		s.mu.Unlock()

		if added {
			s.emit(events.ParticipantConnected{Identity: e.Participant.Identity})
		}

	case msgParticipantLeft:
		var e events.ParticipantEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal participant event: %w", err)
		}

		s.mu.Lock()
		removed := s.roster.leave(e.Participant.Identity)
		s.mu.Unlock()

		if removed {
			s.emit(events.ParticipantDisconnected{Identity: e.Participant.Identity})
		}

	case msgTrackPublished, msgTrackUnpublished:
		var e events.TrackEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal track event: %w", err)
		}

		source, ok := parseSource(e.Source)
		if !ok {
			return fmt.Errorf("unknown track source %q", e.Source)
		}

		s.handleTrackEvent(msg.Type == msgTrackPublished, e, source)

	case msgPublished:
		var e events.PublishedEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal published event: %w", err)
		}

		s.resolvePending(e.RequestID, publishResult{sid: e.SID})

	case msgOffer:
		var e events.SdpEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal offer: %w", err)
		}

		return s.handleOffer(e.SDP)

	case msgAnswer:
		var e events.SdpEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}

		return s.handleAnswer(e.SDP)

	case msgCandidate:
		var e events.IceCandidateEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal ice candidate: %w", err)
		}

		return s.handleCandidate(e.Candidate)

	case msgError:
		var e events.ErrorEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("unmarshal error event: %w", err)
		}

		serverErr := &ServerError{Message: e.Message, Code: e.Code}

		if e.RequestID != "" {
			s.resolvePending(e.RequestID, publishResult{err: serverErr})
			return nil
		}

		s.mu.Lock()
		s.serverErr = serverErr
		s.mu.Unlock()

		slog.Warn("signal server error", slog.Any(constant.Error, serverErr))

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}

	return nil
}

func (s *Session) handleTrackEvent(published bool, e events.TrackEvent, source models.TrackSource) {
	s.mu.Lock()

	var changed bool
	if published {
		changed = s.roster.publish(e.Identity, source)
		if e.TrackID != "" {
			s.remote[e.TrackID] = remoteTrack{identity: e.Identity, source: source}
		}
	} else {
		changed = s.roster.unpublish(e.Identity, source)
		if e.TrackID != "" {
			delete(s.remote, e.TrackID)
		}
	}

	s.mu.Unlock()

	if !changed {
		return
	}

	if published {
		s.emit(events.TrackPublished{Identity: e.Identity, Source: source})
	} else {
		s.emit(events.TrackUnpublished{Identity: e.Identity, Source: source})
	}
}

func (s *Session) resolvePending(requestID string, res publishResult) {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()

	if !ok {
		slog.Debug("publish response without request", slog.String(constant.TrackID, requestID))
		return
	}

	ch <- res
}

func (s *Session) negotiate() error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	return s.offerLocked()
}

// offerLocked requires negMu. While an offer is unanswered the next one is deferred until the answer arrives.
func (s *Session) offerLocked() error {
	s.mu.Lock()
	pc, conn := s.pc, s.conn
	s.mu.Unlock()

	if pc == nil {
		return ErrNotConnected
	}

	if pc.SignalingState() != webrtc.SignalingStateStable {
		s.negPending = true
		return nil
	}

	s.negPending = false

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	if err = pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return conn.send(msgOffer, events.SdpEvent{SDP: offer.SDP})
}

func (s *Session) handleOffer(sdp string) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	pc, conn := s.pc, s.conn
	s.mu.Unlock()

	if pc == nil {
		return ErrNotConnected
	}

	// встречный offer сервера важнее нашего, наш уйдёт после ответа
	if pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}

		s.negPending = true
	}

	if err := s.answer(pc, conn, sdp); err != nil {
		return err
	}

	if s.negPending {
		return s.offerLocked()
	}

	return nil
}

func (s *Session) answer(pc *webrtc.PeerConnection, conn *signalConn, sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	if err = pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return conn.send(msgAnswer, events.SdpEvent{SDP: answer.SDP})
}

func (s *Session) handleAnswer(sdp string) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		return ErrNotConnected
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.flushCandidates(pc)

	if s.negPending {
		return s.offerLocked()
	}

	return nil
}

func (s *Session) handleCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	pc := s.pc
	if pc == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}

	if pc.RemoteDescription() == nil {
		s.candidates = append(s.candidates, candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	return nil
}

func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	queued := s.candidates
	s.candidates = nil
	s.mu.Unlock()

	for _, candidate := range queued {
		if err := pc.AddICECandidate(candidate); err != nil {
			slog.Warn("add queued ice candidate", slog.Any(constant.Error, err))
		}
	}
}

func (s *Session) publish(ctx context.Context, pub *publication) error {
	s.mu.Lock()
	pc, conn := s.pc, s.conn
	s.mu.Unlock()

	if pc == nil {
		return ErrNotConnected
	}

	sender, err := pc.AddTrack(pub.track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	go drainRTCP(sender)

	requestID := uuid.NewString()
	result := make(chan publishResult, 1)

	s.mu.Lock()
	s.pending[requestID] = result
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()

		if err := pc.RemoveTrack(sender); err != nil {
			slog.Debug("remove track after failed publish", slog.Any(constant.Error, err))
		}
	}

	err = conn.send(msgPublish, events.PublishRequest{
		RequestID: requestID,
		TrackID:   pub.trackID,
		Source:    pub.source.String(),
	})
	if err != nil {
		rollback()
		return err
	}

	if err = s.negotiate(); err != nil {
		rollback()
		return err
	}

	var res publishResult
	select {
	case res = <-result:
	case <-ctx.Done():
		rollback()
		return ctx.Err()
	case <-s.ctx.Done():
		rollback()
		return ErrSessionClosed
	}

	if res.err != nil {
		rollback()
		return res.err
	}

	s.mu.Lock()
	pub.sid = res.sid
	pub.sender = sender
	local := s.roster.local
	s.roster.publish(local, pub.source)
	s.mu.Unlock()

	slog.Info("track published",
		slog.String(constant.Source, pub.source.String()),
		slog.String(constant.TrackSID, res.sid),
	)

	s.emit(events.LocalTrackPublished{Source: pub.source, SID: res.sid})

	return nil
}

// republish возвращает локальные треки после переподключения
func (s *Session) republish() {
	s.mu.Lock()
	pubs := make([]*publication, 0, len(s.publications))
	for _, pub := range s.publications {
		pubs = append(pubs, pub)
	}
	s.mu.Unlock()

	for _, pub := range pubs {
		ctx, cancel := context.WithTimeout(s.ctx, s.connector.attemptTimeout)
		err := s.publish(ctx, pub)
		cancel()

		if err != nil {
			slog.Error("republish track",
				slog.Any(constant.Error, err),
				slog.String(constant.Source, pub.source.String()),
			)
		}
	}
}

func (s *Session) reconnect() error {
	backoff := retry.WithCappedDuration(
		reconnectMaxDelay,
		retry.WithMaxRetries(s.connector.reconnectAttempts, retry.NewExponential(reconnectBaseDelay)),
	)

	attempt := 0

	return retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, s.connector.attemptTimeout)
		defer cancel()

		err := s.establish(attemptCtx)
		if err == nil {
			return nil
		}

		slog.Warn("reconnect attempt failed", slog.Int(constant.Attempt, attempt), slog.Any(constant.Error, err))

		var handshakeErr *HandshakeError
		if errors.As(err, &handshakeErr) && handshakeErr.Rejected() {
			return err
		}

		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			return err
		}

		return retry.RetryableError(err)
	})
}

func (s *Session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	info, ok := s.remote[track.ID()]
	s.mu.Unlock()

	if !ok {
		info = remoteTrack{identity: track.StreamID(), source: sourceForKind(track.Kind())}
	}

	slog.Debug("remote track subscribed",
		slog.String(constant.Identity, info.identity),
		slog.String(constant.Source, info.source.String()),
	)

	s.emit(events.TrackSubscribed{Identity: info.identity, Source: info.source})

	go s.readRemote(track, info)
}

func (s *Session) readRemote(track *webrtc.TrackRemote, info remoteTrack) {
	kind := track.Kind().String()

	var loss lossCounter
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			break
		}

		loss.observe(pkt)
		metric.IncrementRTPPacketsReceived(kind)
	}

	slog.Debug("remote track ended",
		slog.String(constant.Identity, info.identity),
		slog.String(constant.Source, info.source.String()),
		slog.Uint64("packets", loss.received),
		slog.Uint64("lost", loss.lost),
	)

	s.emit(events.TrackUnsubscribed{Identity: info.identity, Source: info.source})
}

func (s *Session) onData(msg webrtc.DataChannelMessage) {
	var packet events.DataPacket
	if err := json.Unmarshal(msg.Data, &packet); err != nil {
		metric.IncrementDataPacketsDropped()
		slog.Warn("malformed data packet", slog.Any(constant.Error, err))
		return
	}

	s.emit(events.DataReceived{Payload: packet.Payload, SenderIdentity: packet.Sender})
}

func (s *Session) emit(ev events.RoomEvent) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()

	if s.finished {
		return
	}

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// teardownTransport закрывает peer connection и сигналинг, публикации сохраняются
func (s *Session) teardownTransport(reason error) {
	s.mu.Lock()
	conn, pc := s.conn, s.pc
	s.conn, s.pc, s.dc = nil, nil, nil
	pending := s.pending
	s.pending = make(map[string]chan publishResult)
	for _, pub := range s.publications {
		pub.sender = nil
	}
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- publishResult{err: reason}
	}

	if pc != nil {
		if err := pc.Close(); err != nil {
			slog.Debug("close peer connection", slog.Any(constant.Error, err))
		}
	}

	if conn != nil {
		conn.close()
	}
}

func (s *Session) finish(err error) {
	s.finishOnce.Do(func() {
		s.cancel()
		s.teardownTransport(ErrSessionClosed)

		s.emitMu.Lock()
		defer s.emitMu.Unlock()

		s.finished = true

		select {
		case s.events <- events.Disconnected{Err: err}:
		default:
			slog.Warn("event buffer full, disconnected event dropped")
		}

		close(s.events)

		if err != nil {
			slog.Warn("room disconnected", slog.Any(constant.Error, err))
		} else {
			slog.Info("room disconnected")
		}
	})
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)

	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func sourceForKind(kind webrtc.RTPCodecType) models.TrackSource {
	if kind == webrtc.RTPCodecTypeAudio {
		return models.SourceMicrophone
	}

	return models.SourceCamera
}
