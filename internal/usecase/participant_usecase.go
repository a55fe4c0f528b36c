package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
)

// ParticipantUsecase ведёт ростер комнаты и обогащает его профилями для преподавателя
type ParticipantUsecase interface {
	// Refresh recomputes the whole roster from the transport membership. It never waits on profile lookups.
	Refresh(members []models.RoomMember)

	Participants() []models.ParticipantRecord
	DisplayName(identity string) string

	// Close cancels pending lookups and waits for them to return.
	Close()
}

type participantUsecase struct {
	privileged    bool
	profiles      ProfileFetcher
	cache         memory.ProfileCacheRepository
	lookupTimeout time.Duration
	onChange      func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	members  []models.RoomMember
	records  []models.ParticipantRecord
	inflight map[string]struct{}
}

func NewParticipantUsecase(
	privileged bool,
	profiles ProfileFetcher,
	cache memory.ProfileCacheRepository,
	lookupTimeout time.Duration,
	onChange func(),
) ParticipantUsecase {
	if onChange == nil {
		onChange = func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &participantUsecase{
		privileged:    privileged,
		profiles:      profiles,
		cache:         cache,
		lookupTimeout: lookupTimeout,
		onChange:      onChange,
		ctx:           ctx,
		cancel:        cancel,
		inflight:      make(map[string]struct{}),
	}
}

func (p *participantUsecase) Refresh(members []models.RoomMember) {
	ordered := orderMembers(members)

	p.mu.Lock()
	p.members = ordered
	p.records = p.buildRecords(ordered)
	count := len(p.records)

	if p.privileged && p.profiles != nil && p.ctx.Err() == nil {
		for _, m := range ordered {
			if m.IsLocal {
				continue
			}

			if _, ok := p.inflight[m.Identity]; ok {
				continue
			}

			if _, ok := p.cache.Get(m.Identity); ok {
				continue
			}

			p.inflight[m.Identity] = struct{}{}
			p.wg.Add(1)

			go p.enrich(m.Identity)
		}
	}
	p.mu.Unlock()

	metric.SetParticipantsActive(count)
}

func (p *participantUsecase) Participants() []models.ParticipantRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.ParticipantRecord, len(p.records))
	copy(out, p.records)

	return out
}

func (p *participantUsecase) DisplayName(identity string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, r := range p.records {
		if r.Identity == identity {
			return r.DisplayName
		}
	}

	if p.privileged {
		if profile, ok := p.cache.Get(identity); ok && profile.Name != "" {
			return profile.Name
		}
	}

	// отправитель вне ростера показывается как есть
	return identity
}

func (p *participantUsecase) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *participantUsecase) enrich(identity string) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(p.ctx, p.lookupTimeout)
	defer cancel()

	profile, err := p.profiles.FetchProfile(ctx, identity)

	// сессия закрыта, результат никому не нужен
	if p.ctx.Err() != nil {
		return
	}

	if err != nil {
		slog.Debug("profile lookup failed, using fallback",
			slog.Any(constant.Error, err),
			slog.String(constant.Identity, identity),
		)

		profile = models.FallbackProfile(identity)
	}

	if profile.Name == "" {
		profile.Name = models.FallbackDisplayName(identity)
	}

	metric.RecordProfileLookup(err == nil)

	p.cache.Put(identity, profile)

	p.mu.Lock()
	delete(p.inflight, identity)
	p.records = p.buildRecords(p.members)
	p.mu.Unlock()

	p.onChange()
}

// buildRecords expects p.mu to be held.
func (p *participantUsecase) buildRecords(members []models.RoomMember) []models.ParticipantRecord {
	records := make([]models.ParticipantRecord, 0, len(members))

	for _, m := range members {
		rec := models.ParticipantRecord{
			Identity:    m.Identity,
			DisplayName: m.Name,
			HasVideo:    m.HasVideo(),
			HasAudio:    m.HasAudio(),
			IsLocal:     m.IsLocal,
		}

		if m.IsLocal {
			rec.Role = models.RoleStudent
			if p.privileged {
				rec.Role = models.RoleEducator
			}
		} else if p.privileged {
			if profile, ok := p.cache.Get(m.Identity); ok {
				if profile.Name != "" {
					rec.DisplayName = profile.Name
				}
				rec.Role = profile.Role
				rec.PhotoURL = profile.PhotoURL
			}
		}

		if rec.DisplayName == "" {
			rec.DisplayName = models.FallbackDisplayName(m.Identity)
		}

		records = append(records, rec)
	}

	return records
}

// orderMembers puts the local participant first and keeps the transport join order for the rest.
func orderMembers(members []models.RoomMember) []models.RoomMember {
	ordered := make([]models.RoomMember, 0, len(members))

	for _, m := range members {
		if m.IsLocal {
			ordered = append(ordered, m)
		}
	}

	for _, m := range members {
		if !m.IsLocal {
			ordered = append(ordered, m)
		}
	}

	return ordered
}
