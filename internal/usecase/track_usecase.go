package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

const endedUnpublishTimeout = 5 * time.Second

var ErrNotConnected = errors.New("session is not connected")

// TrackUsecase владеет локальными камерой, микрофоном и демонстрацией экрана
type TrackUsecase interface {
	EnableCamera(ctx context.Context) error
	DisableCamera(ctx context.Context) error
	EnableMicrophone(ctx context.Context) error
	DisableMicrophone(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error

	Media() models.LocalMediaState

	// Teardown unpublishes and stops every local track exactly once. Later calls are no-ops.
	Teardown(ctx context.Context)
}

type publication struct {
	track LocalTrack
	sid   string
}

type trackUsecase struct {
	devices   MediaDevices
	publisher TrackPublisher
	onChange  func()

	// opMu сериализует операции с устройствами и транспортом
	opMu sync.Mutex

	mu     sync.RWMutex
	state  models.LocalMediaState
	pubs   map[models.TrackSource]*publication
	closed bool
}

func NewTrackUsecase(devices MediaDevices, publisher TrackPublisher, onChange func()) TrackUsecase {
	if onChange == nil {
		onChange = func() {}
	}

	return &trackUsecase{
		devices:   devices,
		publisher: publisher,
		onChange:  onChange,
		pubs:      make(map[models.TrackSource]*publication),
	}
}

func (t *trackUsecase) EnableCamera(ctx context.Context) error {
	return t.enable(ctx, models.SourceCamera)
}

func (t *trackUsecase) DisableCamera(ctx context.Context) error {
	return t.disable(ctx, models.SourceCamera)
}

func (t *trackUsecase) EnableMicrophone(ctx context.Context) error {
	return t.enable(ctx, models.SourceMicrophone)
}

func (t *trackUsecase) DisableMicrophone(ctx context.Context) error {
	return t.disable(ctx, models.SourceMicrophone)
}

func (t *trackUsecase) ToggleScreenShare(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.Media().ScreenShareEnabled {
		return t.unpublishLocked(ctx, models.SourceScreenShare)
	}

	if t.isClosed() {
		return ClassifyError(ErrNotConnected)
	}

	track, err := t.devices.CaptureDisplay(ctx)
	if err != nil {
		metric.RecordTrackOperation(models.SourceScreenShare.String(), "capture", err)
		return t.deviceFailure(models.SourceScreenShare, err)
	}

	pub, err := t.publish(ctx, models.SourceScreenShare, track)
	if err != nil {
		return err
	}

	track.OnEnded(func() {
		go t.screenShareEnded(pub)
	})

	return nil
}

func (t *trackUsecase) Media() models.LocalMediaState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state
}

func (t *trackUsecase) Teardown(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	t.closed = true
	pubs := t.pubs
	t.pubs = make(map[models.TrackSource]*publication)
	t.mu.Unlock()

	for source, pub := range pubs {
		t.release(ctx, source, pub)
	}

	t.mu.Lock()
	t.state = models.LocalMediaState{}
	t.mu.Unlock()

	t.onChange()
}

// enable сначала пробует устройство одноразовым захватом и только потом публикует постоянный трек
func (t *trackUsecase) enable(ctx context.Context, source models.TrackSource) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.Media().Enabled(source) {
		return nil
	}

	if t.isClosed() {
		return ClassifyError(ErrNotConnected)
	}

	if err := t.devices.Probe(ctx, source); err != nil {
		metric.RecordTrackOperation(source.String(), "probe", err)
		return t.deviceFailure(source, err)
	}

	track, err := t.devices.Capture(ctx, source)
	if err != nil {
		metric.RecordTrackOperation(source.String(), "capture", err)
		return t.deviceFailure(source, err)
	}

	_, err = t.publish(ctx, source, track)

	return err
}

func (t *trackUsecase) disable(ctx context.Context, source models.TrackSource) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	return t.unpublishLocked(ctx, source)
}

func (t *trackUsecase) publish(ctx context.Context, source models.TrackSource, track LocalTrack) (*publication, error) {
	sid, err := t.publisher.PublishTrack(ctx, track)
	metric.RecordTrackOperation(source.String(), "publish", err)

	if err != nil {
		if stopErr := track.Stop(); stopErr != nil {
			slog.Warn("stop unpublished track", slog.Any(constant.Error, stopErr), slog.String(constant.Source, source.String()))
		}

		return nil, t.deviceFailure(source, err)
	}

	pub := &publication{track: track, sid: sid}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		// Teardown прошёл, пока мы публиковали
		t.release(ctx, source, pub)

		return nil, ClassifyError(ErrNotConnected)
	}

	t.pubs[source] = pub
	t.state.Set(source, true)
	t.mu.Unlock()

	slog.Info("local track published",
		slog.String(constant.Source, source.String()),
		slog.String(constant.TrackSID, sid),
	)

	t.onChange()

	return pub, nil
}

// unpublishLocked expects opMu to be held.
func (t *trackUsecase) unpublishLocked(ctx context.Context, source models.TrackSource) error {
	t.mu.Lock()
	pub, ok := t.pubs[source]
	if !ok {
		t.mu.Unlock()
		return nil
	}

	delete(t.pubs, source)
	t.mu.Unlock()

	err := t.release(ctx, source, pub)

	t.mu.Lock()
	t.state.Set(source, false)
	t.mu.Unlock()

	t.onChange()

	if err != nil {
		return ClassifyError(err)
	}

	return nil
}

func (t *trackUsecase) screenShareEnded(pub *publication) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.pubs[models.SourceScreenShare] != pub {
		t.mu.Unlock()
		return
	}

	delete(t.pubs, models.SourceScreenShare)
	t.mu.Unlock()

	slog.Info("screen share ended outside of the app", slog.String(constant.TrackSID, pub.sid))

	ctx, cancel := context.WithTimeout(context.Background(), endedUnpublishTimeout)
	defer cancel()

	_ = t.release(ctx, models.SourceScreenShare, pub)

	t.mu.Lock()
	t.state.ScreenShareEnabled = false
	t.mu.Unlock()

	t.onChange()
}

// release unpublishes and stops a track that is already detached from pubs.
func (t *trackUsecase) release(ctx context.Context, source models.TrackSource, pub *publication) error {
	err := t.publisher.UnpublishTrack(ctx, pub.sid)
	metric.RecordTrackOperation(source.String(), "unpublish", err)

	if err != nil {
		slog.Warn("unpublish local track",
			slog.Any(constant.Error, err),
			slog.String(constant.Source, source.String()),
			slog.String(constant.TrackSID, pub.sid),
		)
	}

	if stopErr := pub.track.Stop(); stopErr != nil {
		slog.Warn("stop local track", slog.Any(constant.Error, stopErr), slog.String(constant.Source, source.String()))
	}

	return err
}

func (t *trackUsecase) deviceFailure(source models.TrackSource, err error) error {
	se := ClassifyDeviceError(err, source)

	slog.Warn("enable local track",
		slog.Any(constant.Error, err),
		slog.String(constant.Source, source.String()),
		slog.String(constant.Kind, se.Kind.String()),
	)

	return se
}

func (t *trackUsecase) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.closed
}
