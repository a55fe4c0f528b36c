package models

// TrackSource источник локального или удалённого трека
type TrackSource string

const (
	SourceCamera      TrackSource = "camera"
	SourceMicrophone  TrackSource = "microphone"
	SourceScreenShare TrackSource = "screen_share"
)

func (s TrackSource) String() string {
	return string(s)
}

// IsVideo reports whether the source renders as a video tile.
func (s TrackSource) IsVideo() bool {
	return s == SourceCamera || s == SourceScreenShare
}

// LocalMediaState mirrors the real device/track state; it is never set ahead of the device or transport call.
type LocalMediaState struct {
	CameraEnabled      bool `json:"camera_enabled"`
	MicrophoneEnabled  bool `json:"microphone_enabled"`
	ScreenShareEnabled bool `json:"screen_share_enabled"`
}

func (m LocalMediaState) Enabled(source TrackSource) bool {
	switch source {
	case SourceCamera:
		return m.CameraEnabled
	case SourceMicrophone:
		return m.MicrophoneEnabled
	case SourceScreenShare:
		return m.ScreenShareEnabled
	default:
		return false
	}
}

func (m *LocalMediaState) Set(source TrackSource, enabled bool) {
	switch source {
	case SourceCamera:
		m.CameraEnabled = enabled
	case SourceMicrophone:
		m.MicrophoneEnabled = enabled
	case SourceScreenShare:
		m.ScreenShareEnabled = enabled
	}
}
