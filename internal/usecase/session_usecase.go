package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
)

var (
	ErrAlreadyJoined = errors.New("session already joined or joining")
	ErrSessionClosed = errors.New("session controller is closed")
)

// SessionUsecase управляет жизненным циклом подключения к живому уроку
type SessionUsecase interface {
	Join(ctx context.Context, cfg models.SessionConfig) error

	// Leave is safe to call from any state and any number of times.
	Leave(ctx context.Context)

	EnableCamera(ctx context.Context) error
	DisableCamera(ctx context.Context) error
	EnableMicrophone(ctx context.Context) error
	DisableMicrophone(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	SendChatMessage(ctx context.Context, text string) (models.ChatMessage, error)

	State() models.ConnectionState
	Config() (models.SessionConfig, bool)
	Participants() []models.ParticipantRecord
	Media() models.LocalMediaState
	Transcript() []models.ChatMessage
	LastError() *models.SessionError

	// Changes receives a coalesced signal after any observable state changes.
	Changes() <-chan struct{}

	// Close leaves the room and releases the controller.
	Close()
}

type SessionOptions struct {
	ConnectTimeout time.Duration
	ProfileTimeout time.Duration
}

type sessionUsecase struct {
	credentials CredentialFetcher
	connector   RoomConnector
	devices     MediaDevices
	profiles    ProfileFetcher
	cache       memory.ProfileCacheRepository
	opts        SessionOptions

	notifyMu sync.Mutex
	changes  chan struct{}
	disposed bool

	mu           sync.RWMutex
	state        models.ConnectionState
	config       *models.SessionConfig
	generation   uint64
	room         RoomSession
	tracks       TrackUsecase
	participants ParticipantUsecase
	chat         ChatUsecase
	lastErr      *models.SessionError
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewSessionUsecase(
	credentials CredentialFetcher,
	connector RoomConnector,
	devices MediaDevices,
	profiles ProfileFetcher,
	cache memory.ProfileCacheRepository,
	opts SessionOptions,
) SessionUsecase {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}

	if opts.ProfileTimeout <= 0 {
		opts.ProfileTimeout = 5 * time.Second
	}

	metric.SetSessionState(models.PhaseIdle.String())

	return &sessionUsecase{
		credentials: credentials,
		connector:   connector,
		devices:     devices,
		profiles:    profiles,
		cache:       cache,
		opts:        opts,
		changes:     make(chan struct{}, 1),
		state:       models.ConnectionState{Phase: models.PhaseIdle},
	}
}

func (s *sessionUsecase) Join(ctx context.Context, cfg models.SessionConfig) error {
	if s.isDisposed() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}

	s.generation++
	gen := s.generation
	s.config = &cfg
	s.lastErr = nil
	s.setStateLocked(models.ConnectionState{Phase: models.PhaseConnecting})
	s.mu.Unlock()
	s.notify()

	cred, err := s.credentials.FetchJoinCredential(ctx, cfg.RoomID)
	if err != nil {
		return s.fail(gen, fmt.Errorf("fetch join credential: %w", err))
	}

	cred, err = ValidateCredential(cred)
	if err != nil {
		return s.fail(gen, err)
	}

	if claims, ok := ParseTokenClaims(cred.Token); ok {
		slog.Debug("join token claims",
			slog.String(constant.Identity, claims.Identity),
			slog.Time("expires_at", claims.ExpiresAt),
		)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	room, err := s.connector.Connect(connectCtx, cred.ServerURL, cred.Token, ConnectOptions{AutoSubscribe: true})
	cancelConnect()

	if err != nil {
		return s.fail(gen, fmt.Errorf("connect to room: %w", err))
	}

	s.mu.Lock()
	if s.generation != gen || s.state.Phase != models.PhaseConnecting {
		s.mu.Unlock()

		// Leave пришёл во время подключения
		if err := room.Disconnect(); err != nil {
			slog.Warn("disconnect abandoned room", slog.Any(constant.Error, err))
		}

		return ClassifyError(ErrNotConnected)
	}

	participants := NewParticipantUsecase(cfg.Privileged, s.profiles, s.cache, s.opts.ProfileTimeout, s.notify)
	tracks := NewTrackUsecase(s.devices, room, s.notify)
	chat := NewChatUsecase(room, memory.NewChatTranscriptRepository(), participants.DisplayName, s.notify)

	dispatchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.room = room
	s.participants = participants
	s.tracks = tracks
	s.chat = chat
	s.cancel = cancel
	s.done = done
	s.setStateLocked(models.ConnectionState{Phase: models.PhaseConnected})
	s.mu.Unlock()

	participants.Refresh(room.Members())

	go s.dispatch(dispatchCtx, gen, room, done)

	metric.RecordJoin("ok")
	slog.Info("joined room",
		slog.String(constant.RoomID, cfg.RoomID),
		slog.String(constant.RoomName, cred.RoomName),
		slog.Bool("privileged", cfg.Privileged),
	)
	s.notify()

	// камера и микрофон запрашиваются у всех участников независимо от роли
	for _, enable := range []func(context.Context) error{tracks.EnableCamera, tracks.EnableMicrophone} {
		if !s.isCurrent(gen) {
			break
		}

		if err := enable(ctx); err != nil {
			s.setLastError(gen, err)
		}
	}

	return nil
}

func (s *sessionUsecase) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.room == nil {
		if s.state.Phase == models.PhaseConnecting {
			s.generation++
		}

		changed := s.state.Phase != models.PhaseDisconnected
		if changed {
			s.setStateLocked(models.ConnectionState{Phase: models.PhaseDisconnected})
		}
		s.mu.Unlock()

		if changed {
			s.notify()
		}

		return
	}

	gen := s.generation
	s.mu.Unlock()

	if done := s.detach(ctx, gen, nil); done != nil {
		<-done
	}
}

func (s *sessionUsecase) EnableCamera(ctx context.Context) error {
	return s.withTracks(func(t TrackUsecase) error { return t.EnableCamera(ctx) })
}

func (s *sessionUsecase) DisableCamera(ctx context.Context) error {
	return s.withTracks(func(t TrackUsecase) error { return t.DisableCamera(ctx) })
}

func (s *sessionUsecase) EnableMicrophone(ctx context.Context) error {
	return s.withTracks(func(t TrackUsecase) error { return t.EnableMicrophone(ctx) })
}

func (s *sessionUsecase) DisableMicrophone(ctx context.Context) error {
	return s.withTracks(func(t TrackUsecase) error { return t.DisableMicrophone(ctx) })
}

func (s *sessionUsecase) ToggleScreenShare(ctx context.Context) error {
	return s.withTracks(func(t TrackUsecase) error { return t.ToggleScreenShare(ctx) })
}

func (s *sessionUsecase) SendChatMessage(ctx context.Context, text string) (models.ChatMessage, error) {
	s.mu.RLock()
	chat := s.chat
	gen := s.generation
	connected := s.room != nil
	s.mu.RUnlock()

	if !connected {
		return models.ChatMessage{}, ClassifyError(ErrNotConnected)
	}

	msg, err := chat.Send(ctx, text)
	if err != nil {
		s.setLastError(gen, err)
	}

	return msg, err
}

func (s *sessionUsecase) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *sessionUsecase) Config() (models.SessionConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return models.SessionConfig{}, false
	}

	return *s.config, true
}

func (s *sessionUsecase) Participants() []models.ParticipantRecord {
	s.mu.RLock()
	participants := s.participants
	s.mu.RUnlock()

	if participants == nil {
		return nil
	}

	return participants.Participants()
}

func (s *sessionUsecase) Media() models.LocalMediaState {
	s.mu.RLock()
	tracks := s.tracks
	s.mu.RUnlock()

	if tracks == nil {
		return models.LocalMediaState{}
	}

	return tracks.Media()
}

func (s *sessionUsecase) Transcript() []models.ChatMessage {
	s.mu.RLock()
	chat := s.chat
	s.mu.RUnlock()

	if chat == nil {
		return nil
	}

	return chat.Transcript()
}

func (s *sessionUsecase) LastError() *models.SessionError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr
}

func (s *sessionUsecase) Changes() <-chan struct{} {
	return s.changes
}

func (s *sessionUsecase) Close() {
	s.Leave(context.Background())

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if s.disposed {
		return
	}

	s.disposed = true
	close(s.changes)
}

// dispatch единственный обработчик событий транспорта, порядок событий сохраняется
func (s *sessionUsecase) dispatch(ctx context.Context, gen uint64, room RoomSession, done chan struct{}) {
	defer close(done)

	roomEvents := room.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-roomEvents:
			if !ok {
				s.detach(context.Background(), gen, errors.New("room event stream closed"))
				return
			}

			if stop := s.handleEvent(ctx, gen, room, ev); stop {
				return
			}
		}
	}
}

func (s *sessionUsecase) handleEvent(ctx context.Context, gen uint64, room RoomSession, ev events.RoomEvent) bool {
	s.mu.RLock()
	participants, chat := s.participants, s.chat
	s.mu.RUnlock()

	switch e := ev.(type) {
	case events.Connected:
		return false

	case events.Reconnecting:
		s.transition(gen, models.PhaseConnected, models.PhaseReconnecting)

	case events.Reconnected:
		participants.Refresh(room.Members())
		s.transition(gen, models.PhaseReconnecting, models.PhaseConnected)

	case events.Disconnected:
		s.detach(context.Background(), gen, e.Err)
		return true

	case events.DataReceived:
		chat.Receive(e.Payload, e.SenderIdentity)

	default:
		if events.RosterChanged(ev) {
			participants.Refresh(room.Members())
			s.notify()
		}
	}

	return ctx.Err() != nil
}

func (s *sessionUsecase) transition(gen uint64, from, to models.ConnectionPhase) {
	s.mu.Lock()
	if s.generation != gen || s.state.Phase != from {
		s.mu.Unlock()
		return
	}

	s.setStateLocked(models.ConnectionState{Phase: to})
	s.mu.Unlock()

	s.notify()
}

// detach tears down the connection of generation gen once. It returns the dispatcher done channel
// to the caller that actually performed the teardown, nil otherwise.
func (s *sessionUsecase) detach(ctx context.Context, gen uint64, cause error) chan struct{} {
	s.mu.Lock()
	if s.generation != gen || s.room == nil {
		s.mu.Unlock()
		return nil
	}

	room, tracks, participants := s.room, s.tracks, s.participants
	cancel, done := s.cancel, s.done

	s.room = nil
	s.cancel = nil
	s.done = nil
	s.setStateLocked(models.ConnectionState{Phase: models.PhaseDisconnected})
	if cause != nil {
		s.lastErr = ClassifyError(cause)
	}
	s.mu.Unlock()

	cancel()
	tracks.Teardown(ctx)
	participants.Close()

	if err := room.Disconnect(); err != nil {
		slog.Warn("disconnect room", slog.Any(constant.Error, err))
	}

	if cause != nil {
		slog.Warn("room disconnected", slog.Any(constant.Error, cause))
	} else {
		slog.Info("left room")
	}

	s.notify()

	return done
}

func (s *sessionUsecase) fail(gen uint64, err error) error {
	se := ClassifyError(err)

	s.mu.Lock()
	if s.generation == gen && s.state.Phase == models.PhaseConnecting {
		s.setStateLocked(models.StateFailed(se.Kind))
		s.lastErr = se
	}
	s.mu.Unlock()

	metric.RecordJoin(se.Kind.Code.String())
	slog.Error("join room", slog.Any(constant.Error, err), slog.String(constant.Kind, se.Kind.String()))
	s.notify()

	return se
}

func (s *sessionUsecase) withTracks(op func(TrackUsecase) error) error {
	s.mu.RLock()
	tracks := s.tracks
	gen := s.generation
	connected := s.room != nil
	s.mu.RUnlock()

	if !connected {
		return ClassifyError(ErrNotConnected)
	}

	if err := op(tracks); err != nil {
		s.setLastError(gen, err)
		return err
	}

	return nil
}

// isCurrent reports whether the connection of generation gen is still attached.
func (s *sessionUsecase) isCurrent(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation == gen && s.room != nil
}

// setLastError drops errors of a connection that has since been left or replaced.
func (s *sessionUsecase) setLastError(gen uint64, err error) {
	se := ClassifyError(err)

	s.mu.Lock()
	if s.generation != gen || s.room == nil {
		s.mu.Unlock()

		slog.Debug("stale session error dropped", slog.Any(constant.Error, err))
		return
	}
	s.lastErr = se
	s.mu.Unlock()

	s.notify()
}

// setStateLocked expects s.mu to be held.
func (s *sessionUsecase) setStateLocked(state models.ConnectionState) {
	s.state = state

	metric.SetSessionState(state.Phase.String())
	slog.Debug("session state changed", slog.String(constant.State, state.String()))
}

func (s *sessionUsecase) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if s.disposed {
		return
	}

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *sessionUsecase) isDisposed() bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	return s.disposed
}
