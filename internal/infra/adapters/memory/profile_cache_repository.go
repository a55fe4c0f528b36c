package memory

import (
	"sync"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

// ProfileCacheRepository кэш профилей участников по identity
type ProfileCacheRepository interface {
	// Get a cached profile
	Get(identity string) (models.Profile, bool)

	// Put stores or replaces the profile for identity
	Put(identity string, profile models.Profile)

	// Len returns the number of cached identities
	Len() int
}

type profileCacheRepository struct {
	profiles map[string]models.Profile
	mu       sync.RWMutex
}

func NewProfileCacheRepository() ProfileCacheRepository {
	return &profileCacheRepository{
		profiles: make(map[string]models.Profile),
	}
}

func (r *profileCacheRepository) Get(identity string) (models.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[identity]
	return profile, ok
}

func (r *profileCacheRepository) Put(identity string, profile models.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[identity] = profile
}

func (r *profileCacheRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.profiles)
}
