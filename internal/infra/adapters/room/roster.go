package room

import (
	"slices"

	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// roster состав комнаты в порядке подключения, локальный участник первый
type roster struct {
	local   string
	order   []string
	members map[string]*models.RoomMember
}

func newRoster(joined events.JoinedEvent) *roster {
	r := &roster{
		local:   joined.Participant.Identity,
		members: make(map[string]*models.RoomMember),
	}

	r.join(joined.Participant)
	r.members[r.local].IsLocal = true

	for _, info := range joined.Participants {
		r.join(info)
	}

	return r
}

// join returns false if the identity is already present or empty.
func (r *roster) join(info events.MemberInfo) bool {
	if info.Identity == "" {
		return false
	}

	if _, ok := r.members[info.Identity]; ok {
		return false
	}

	m := &models.RoomMember{Identity: info.Identity, Name: info.Name}
	for _, raw := range info.Sources {
		if source, ok := parseSource(raw); ok && !m.Publishes(source) {
			m.Sources = append(m.Sources, source)
		}
	}

	r.members[info.Identity] = m
	r.order = append(r.order, info.Identity)

	return true
}

func (r *roster) leave(identity string) bool {
	if identity == r.local {
		return false
	}

	if _, ok := r.members[identity]; !ok {
		return false
	}

	delete(r.members, identity)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == identity })

	return true
}

func (r *roster) publish(identity string, source models.TrackSource) bool {
	m, ok := r.members[identity]
	if !ok || m.Publishes(source) {
		return false
	}

	m.Sources = append(m.Sources, source)

	return true
}

func (r *roster) unpublish(identity string, source models.TrackSource) bool {
	m, ok := r.members[identity]
	if !ok || !m.Publishes(source) {
		return false
	}

	m.Sources = slices.DeleteFunc(m.Sources, func(s models.TrackSource) bool { return s == source })

	return true
}

func (r *roster) list() []models.RoomMember {
	out := make([]models.RoomMember, 0, len(r.order))

	for _, id := range r.order {
		m := *r.members[id]
		m.Sources = slices.Clone(m.Sources)
		out = append(out, m)
	}

	return out
}

func parseSource(raw string) (models.TrackSource, bool) {
	switch source := models.TrackSource(raw); source {
	case models.SourceCamera, models.SourceMicrophone, models.SourceScreenShare:
		return source, true
	default:
		return "", false
	}
}
