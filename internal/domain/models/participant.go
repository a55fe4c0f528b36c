package models

import "strings"

const (
	RoleEducator = "educator"
	RoleStudent  = "student"
)

// RoomMember участник комнаты в том виде, в котором его отдаёт транспорт
type RoomMember struct {
	Identity string
	Name     string
	IsLocal  bool
	Sources  []TrackSource
}

func (m RoomMember) Publishes(source TrackSource) bool {
	for _, s := range m.Sources {
		if s == source {
			return true
		}
	}

	return false
}

func (m RoomMember) HasVideo() bool {
	return m.Publishes(SourceCamera) || m.Publishes(SourceScreenShare)
}

func (m RoomMember) HasAudio() bool {
	return m.Publishes(SourceMicrophone)
}

// Profile данные профиля участника из бэкенда
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	PhotoURL string `json:"photoUrl"`
	Class    string `json:"class,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

// ParticipantRecord одна запись ростера, ключ - Identity
type ParticipantRecord struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	PhotoURL    string `json:"photo_url"`
	HasVideo    bool   `json:"has_video"`
	HasAudio    bool   `json:"has_audio"`
	IsLocal     bool   `json:"is_local"`
}

// FallbackDisplayName derives a display name from the identity alone: the part before '@', or the identity itself.
func FallbackDisplayName(identity string) string {
	if i := strings.Index(identity, "@"); i > 0 {
		return identity[:i]
	}

	return identity
}

func FallbackProfile(identity string) Profile {
	return Profile{Name: FallbackDisplayName(identity)}
}
