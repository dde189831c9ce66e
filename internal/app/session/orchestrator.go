package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// State of the orchestrator with respect to the live profile subscription.
type State string

const (
	StateLoggedOut      State = "logged_out"
	StateAuthenticating State = "authenticating"
	StateSubscribed     State = "subscribed"
)

var profilePalette = []string{"coral", "indigo", "teal", "amber", "rose", "slate"}

// Orchestrator reacts to identity changes: it bootstraps a Profile record
// for every signed-in identity and maintains the one live profile
// subscription, tearing everything down on sign-out.
//
// Every identity transition bumps a generation counter and cancels the
// previous bootstrap. In-flight retry loops re-check their captured
// generation before touching shared state, so a superseded loop can never
// clobber what a newer one established.
type Orchestrator struct {
	ids      *identity.Store
	profiles domain.ProfileStore
	sink     domain.EventSink

	appVersion string
	backoff    time.Duration

	mu          sync.Mutex
	state       State
	profile     *domain.Profile
	generation  uint64
	cancelBoot  context.CancelFunc
	detachWatch func()
	cancelSub   func()
}

func NewOrchestrator(
	ids *identity.Store,
	profiles domain.ProfileStore,
	sink domain.EventSink,
	appVersion string,
) *Orchestrator {
	return &Orchestrator{
		ids:        ids,
		profiles:   profiles,
		sink:       sink,
		appVersion: appVersion,
		backoff:    2 * time.Second,
		state:      StateLoggedOut,
	}
}

// Start subscribes to identity changes and drives the state machine until
// ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	ch, cancel := o.ids.Subscribe()

	o.mu.Lock()
	o.cancelSub = cancel
	o.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-ch:
				if !ok {
					return
				}
				o.handleIdentity(ctx, id)
			}
		}
	}()
}

// Stop releases the identity subscription and any live profile watch.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	if o.cancelBoot != nil {
		o.cancelBoot()
		o.cancelBoot = nil
	}
	if o.detachWatch != nil {
		o.detachWatch()
		o.detachWatch = nil
	}
	if o.cancelSub != nil {
		o.cancelSub()
		o.cancelSub = nil
	}
	o.state = StateLoggedOut
	o.profile = nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Profile returns the cached copy of the live profile, nil before the
// first snapshot arrives or while logged out.
func (o *Orchestrator) Profile() *domain.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

// CompleteOnboarding flips the onboarding flag on the signed-in user's
// profile. The cache converges via the live subscription.
func (o *Orchestrator) CompleteOnboarding(ctx context.Context) error {
	cur := o.ids.Current()
	if cur == nil {
		return fmt.Errorf("complete onboarding: no signed-in identity")
	}
	if err := o.profiles.SetOnboardingComplete(ctx, cur.ID, true); err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleIdentity(ctx context.Context, id *domain.Identity) {
	o.mu.Lock()
	o.generation++
	gen := o.generation

	// Old listener goes before anything about the new identity starts;
	// a stale user's events must not leak into the new session.
	if o.cancelBoot != nil {
		o.cancelBoot()
		o.cancelBoot = nil
	}
	if o.detachWatch != nil {
		o.detachWatch()
		o.detachWatch = nil
	}

	if id == nil {
		o.state = StateLoggedOut
		o.profile = nil
		o.mu.Unlock()
		observability.LoggerFromContext(ctx).Info("session torn down")
		return
	}

	o.state = StateAuthenticating
	o.profile = nil
	bctx, cancel := context.WithCancel(ctx)
	o.cancelBoot = cancel
	o.mu.Unlock()

	go o.bootstrap(bctx, gen, id)
}

// bootstrap upserts the profile defaults and opens the live watch. On a
// remote failure it retries the whole determine-identity/upsert cycle
// after a fixed backoff, forever, until cancelled or superseded.
func (o *Orchestrator) bootstrap(ctx context.Context, gen uint64, id *domain.Identity) {
	log := observability.LoggerFromContext(ctx).With("user_id", id.ID)

	for {
		err := o.profiles.CreateIfAbsent(ctx, o.defaultProfile(id.ID))
		if err == nil {
			break
		}

		log.Warn("profile bootstrap failed, retrying", "error", err, "backoff", o.backoff)
		o.sink.Emit(ctx, "profile.bootstrap_retry", "user_id", id.ID)

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.backoff):
		}

		// Whole cycle restarts: re-read the current identity in case it
		// moved while we slept.
		cur := o.ids.Current()
		if cur == nil || cur.ID != id.ID {
			return
		}
		id = cur
	}

	o.mu.Lock()
	if gen != o.generation {
		// A newer identity change superseded this bootstrap; its results
		// are stale and must be discarded.
		o.mu.Unlock()
		return
	}

	detach, err := o.profiles.Watch(ctx, id.ID, o.profileListener(gen))
	if err != nil {
		o.mu.Unlock()
		log.Error("profile watch failed", "error", err)
		return
	}
	o.detachWatch = detach
	o.state = StateSubscribed
	o.mu.Unlock()

	log.Info("profile subscription established")
}

func (o *Orchestrator) profileListener(gen uint64) func(*domain.Profile) {
	return func(p *domain.Profile) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.generation {
			return
		}
		o.profile = p
	}
}

func (o *Orchestrator) defaultProfile(userID domain.UserID) *domain.Profile {
	return &domain.Profile{
		UserID:             userID,
		OnboardingComplete: false,
		ProfileColor:       profilePalette[rand.Intn(len(profilePalette))],
		CreationAppVersion: o.appVersion,
	}
}
