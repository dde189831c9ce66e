package memory

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
)

// ProfileStore is the in-memory ProfileStore, used in local mode and in
// tests. FailCreates makes the next N CreateIfAbsent calls return CreateErr,
// which is how tests exercise the bootstrap retry loop.
type ProfileStore struct {
	mu        sync.Mutex
	profiles  map[domain.UserID]*domain.Profile
	watchers  map[domain.UserID]map[int]*watcher[*domain.Profile]
	nextWatch int

	FailCreates int
	CreateErr   error
	DeleteErr   error
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[domain.UserID]*domain.Profile),
		watchers: make(map[domain.UserID]map[int]*watcher[*domain.Profile]),
	}
}

// SetFailCreates arms or clears create failures while writers may be live.
func (s *ProfileStore) SetFailCreates(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailCreates = n
	s.CreateErr = err
}

func (s *ProfileStore) Get(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProfileStore) CreateIfAbsent(ctx context.Context, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreates > 0 {
		s.FailCreates--
		return s.CreateErr
	}

	if _, exists := s.profiles[profile.UserID]; exists {
		return nil
	}
	cp := *profile
	s.profiles[profile.UserID] = &cp
	s.notifyLocked(profile.UserID)
	return nil
}

func (s *ProfileStore) SetOnboardingComplete(ctx context.Context, userID domain.UserID, complete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return domain.ErrNotFound
	}
	p.OnboardingComplete = complete
	s.notifyLocked(userID)
	return nil
}

func (s *ProfileStore) Delete(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.profiles, userID)
	s.notifyLocked(userID)
	return nil
}

func (s *ProfileStore) Watch(ctx context.Context, userID domain.UserID, fn func(*domain.Profile)) (func(), error) {
	w := newWatcher(fn)

	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[int]*watcher[*domain.Profile])
	}
	s.watchers[userID][id] = w
	// Initial snapshot, delivered asynchronously like a real listener.
	w.deliver(s.snapshotLocked(userID))
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.watchers[userID][id]; ok {
			cur.close()
			delete(s.watchers[userID], id)
		}
	}
	return cancel, nil
}

func (s *ProfileStore) snapshotLocked(userID domain.UserID) *domain.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *ProfileStore) notifyLocked(userID domain.UserID) {
	cur := s.snapshotLocked(userID)
	for _, w := range s.watchers[userID] {
		w.deliver(cur)
	}
}
