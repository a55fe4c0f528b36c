package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // регистрирует драйвер камеры
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // регистрирует драйвер микрофона
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // регистрирует захват экрана
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// Devices захват локальных устройств через pion/mediadevices
type Devices struct {
	cfg    config.MediaConfig
	codecs *mediadevices.CodecSelector
}

func NewDevices(cfg config.MediaConfig) (*Devices, error) {
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vp8Params.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Devices{
		cfg: cfg,
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vp8Params),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Devices) Probe(ctx context.Context, source models.TrackSource) error {
	stream, err := d.getUserMedia(ctx, source, nil)
	if err != nil {
		return err
	}

	closeStream(stream)

	return nil
}

func (d *Devices) Capture(ctx context.Context, source models.TrackSource) (usecase.LocalTrack, error) {
	stream, err := d.getUserMedia(ctx, source, d.codecs)
	if err != nil {
		return nil, err
	}

	return singleTrack(stream, source)
}

func (d *Devices) CaptureDisplay(ctx context.Context) (usecase.LocalTrack, error) {
	stream, err := await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.FrameRate = prop.Float(d.cfg.FrameRate)
			},
			Codec: d.codecs,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}

	return singleTrack(stream, models.SourceScreenShare)
}

func (d *Devices) getUserMedia(
	ctx context.Context,
	source models.TrackSource,
	codecs *mediadevices.CodecSelector,
) (mediadevices.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: codecs}

	switch source {
	case models.SourceCamera:
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(d.cfg.Width)
			c.Height = prop.Int(d.cfg.Height)
			c.FrameRate = prop.Float(d.cfg.FrameRate)
		}
	case models.SourceMicrophone:
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.ChannelCount = prop.Int(1)
			c.SampleRate = prop.Int(48000)
		}
	default:
		return nil, fmt.Errorf("unsupported capture source %q", source)
	}

	stream, err := await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		return nil, fmt.Errorf("get user media %s: %w", source, err)
	}

	return stream, nil
}

// await runs a blocking capture call; a stream that arrives after ctx is done is closed.
func await(ctx context.Context, get func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}

	ch := make(chan result, 1)
	go func() {
		stream, err := get()
		ch <- result{stream, err}
	}()

	select {
	case res := <-ch:
		return res.stream, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				closeStream(res.stream)
			}
		}()

		return nil, ctx.Err()
	}
}

func singleTrack(stream mediadevices.MediaStream, source models.TrackSource) (usecase.LocalTrack, error) {
	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("NotFoundError: no %s track captured", source)
	}

	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	t := &localTrack{track: tracks[0], source: source}
	tracks[0].OnEnded(t.ended)

	return t, nil
}

func closeStream(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		if err := track.Close(); err != nil {
			slog.Warn("close probe track", slog.Any(constant.Error, err))
		}
	}
}

type localTrack struct {
	track  mediadevices.Track
	source models.TrackSource

	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (t *localTrack) ID() string {
	return t.track.ID()
}

func (t *localTrack) Source() models.TrackSource {
	return t.source
}

// TrackLocal отдаёт трек транспорту для публикации
func (t *localTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

func (t *localTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}

	t.stopped = true
	t.mu.Unlock()

	return t.track.Close()
}

func (t *localTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onEnded = fn
}

func (t *localTrack) ended(err error) {
	t.mu.Lock()
	fn := t.onEnded
	stopped := t.stopped
	t.mu.Unlock()

	if stopped || fn == nil {
		return
	}

	slog.Info("local track ended", slog.String(constant.Source, t.source.String()), slog.Any(constant.Error, err))

	fn()
}
