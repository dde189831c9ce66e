package identity

import (
	"context"
	"sync"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Store owns the current Identity. It holds the one provider-level
// listener for the process and fans auth-state changes out to a single
// subscriber slot; attaching a new subscriber releases the previous one,
// so duplicate delivery is impossible.
type Store struct {
	provider domain.AuthProvider
	sink     domain.EventSink

	mu      sync.Mutex
	current *domain.Identity
	sub     chan *domain.Identity
	detach  func()
}

func NewStore(provider domain.AuthProvider, sink domain.EventSink) *Store {
	s := &Store{
		provider: provider,
		sink:     sink,
	}
	s.detach = provider.Subscribe(s.onChange)
	return s
}

// Close releases the provider-level listener.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// Current returns the latest identity the provider reported, nil when
// signed out.
func (s *Store) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns a channel that immediately carries the current
// identity and then every subsequent change (nil on sign-out). Only one
// subscription is alive at a time: a new call takes over the slot and the
// previous channel is closed. Emissions coalesce under a slow consumer,
// keeping only the latest state.
func (s *Store) Subscribe() (<-chan *domain.Identity, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		close(s.sub)
	}
	ch := make(chan *domain.Identity, 8)
	s.sub = ch
	deliver(ch, s.current)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sub == ch {
			close(s.sub)
			s.sub = nil
		}
	}
	return ch, cancel
}

func (s *Store) onChange(id *domain.Identity) {
	s.mu.Lock()
	s.current = id
	if s.sub != nil {
		deliver(s.sub, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	if id == nil {
		s.sink.Emit(ctx, "identity.cleared")
		return
	}
	s.sink.Emit(ctx, "identity.acquired",
		"user_id", id.ID,
		"anonymous", id.IsAnonymous,
	)
	observability.Logger().Debug("identity changed", "user_id", id.ID, "anonymous", id.IsAnonymous)
}

// deliver pushes onto a buffered channel without ever blocking the
// provider callback: when full, the oldest buffered value is discarded in
// favor of the newer state.
func deliver(ch chan *domain.Identity, id *domain.Identity) {
	for {
		select {
		case ch <- id:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
