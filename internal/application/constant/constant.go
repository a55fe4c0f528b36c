package constant

// Ключи атрибутов для slog
const (
	Error     = "error"
	State     = "state"
	RoomID    = "room_id"
	RoomName  = "room_name"
	Identity  = "identity"
	Source    = "source"
	TrackID   = "track_id"
	TrackSID  = "track_sid"
	Kind      = "kind"
	Event     = "event"
	Attempt   = "attempt"
	ServerURL = "server_url"
)
