package session

import (
	"context"
	"errors"
	"testing"
	"time"

	authmem "github.com/rmaldonado/avachat/internal/adapters/auth/memory"
	memstore "github.com/rmaldonado/avachat/internal/adapters/storage/memory"
	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type fixture struct {
	provider     *authmem.Provider
	ids          *identity.Store
	profiles     *memstore.ProfileStore
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := authmem.NewProvider()
	ids := identity.NewStore(provider, observability.NopSink{})
	profiles := memstore.NewProfileStore()

	o := NewOrchestrator(ids, profiles, observability.NopSink{}, "test-1.0")
	o.backoff = 10 * time.Millisecond

	t.Cleanup(func() {
		o.Stop()
		ids.Close()
	})
	return &fixture{provider: provider, ids: ids, profiles: profiles, orchestrator: o}
}

func TestLoginBootstrapsProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orchestrator.Start(ctx)

	id, _, err := f.provider.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}

	waitFor(t, func() bool {
		return f.orchestrator.State() == StateSubscribed && f.orchestrator.Profile() != nil
	}, "profile subscription")

	p := f.orchestrator.Profile()
	if p.UserID != id.ID {
		t.Fatalf("cached profile for %s, want %s", p.UserID, id.ID)
	}
	if p.OnboardingComplete {
		t.Fatalf("fresh profile must not have onboarding complete")
	}
	if p.CreationAppVersion != "test-1.0" {
		t.Fatalf("creation app version = %q", p.CreationAppVersion)
	}
	if p.ProfileColor == "" {
		t.Fatalf("expected a default profile color")
	}
}

func TestBootstrapNeverOverwritesExistingProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orchestrator.Start(ctx)

	id, _, err := f.provider.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	waitFor(t, func() bool { return f.orchestrator.State() == StateSubscribed }, "first bootstrap")

	if err := f.orchestrator.CompleteOnboarding(ctx); err != nil {
		t.Fatalf("CompleteOnboarding failed: %v", err)
	}

	// Simulate an app restart: a second orchestrator over the same stores
	// bootstraps the same identity again.
	o2 := NewOrchestrator(f.ids, f.profiles, observability.NopSink{}, "test-2.0")
	o2.backoff = 10 * time.Millisecond
	o2.Start(ctx)
	defer o2.Stop()

	waitFor(t, func() bool {
		p := o2.Profile()
		return p != nil && p.OnboardingComplete
	}, "restarted bootstrap to keep remote state")

	p, err := f.profiles.Get(ctx, id.ID)
	if err != nil {
		t.Fatalf("Get profile failed: %v", err)
	}
	if p.CreationAppVersion != "test-1.0" {
		t.Fatalf("bootstrap overwrote existing profile: version %q", p.CreationAppVersion)
	}
}

func TestBootstrapRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.profiles.FailCreates = 2
	f.profiles.CreateErr = errors.New("service unavailable")
	f.orchestrator.Start(ctx)

	if _, _, err := f.provider.SignInAnonymously(ctx); err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}

	waitFor(t, func() bool {
		return f.orchestrator.State() == StateSubscribed && f.orchestrator.Profile() != nil
	}, "bootstrap to succeed after retries")
}

func TestSupersededRetryIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// First identity's bootstrap keeps failing.
	f.profiles.SetFailCreates(1<<20, errors.New("service unavailable"))
	f.orchestrator.Start(ctx)

	first, _, err := f.provider.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	waitFor(t, func() bool { return f.orchestrator.State() == StateAuthenticating }, "first bootstrap to start")

	// A newer identity supersedes the failing loop; its writes must stop.
	second, _, err := f.provider.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("second SignInAnonymously failed: %v", err)
	}
	f.profiles.SetFailCreates(0, nil)

	waitFor(t, func() bool {
		p := f.orchestrator.Profile()
		return f.orchestrator.State() == StateSubscribed && p != nil && p.UserID == second.ID
	}, "second identity to subscribe")

	if _, err := f.profiles.Get(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("superseded retry loop wrote a stale profile for %s", first.ID)
	}
}

func TestSignOutTearsDownSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orchestrator.Start(ctx)

	if _, _, err := f.provider.SignInAnonymously(ctx); err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	waitFor(t, func() bool { return f.orchestrator.State() == StateSubscribed }, "subscription")

	if err := f.provider.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	waitFor(t, func() bool {
		return f.orchestrator.State() == StateLoggedOut && f.orchestrator.Profile() == nil
	}, "teardown on sign-out")
}

func TestOnboardingConvergesThroughWatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orchestrator.Start(ctx)

	if _, _, err := f.provider.SignInAnonymously(ctx); err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	waitFor(t, func() bool { return f.orchestrator.Profile() != nil }, "initial profile snapshot")

	if err := f.orchestrator.CompleteOnboarding(ctx); err != nil {
		t.Fatalf("CompleteOnboarding failed: %v", err)
	}

	waitFor(t, func() bool {
		p := f.orchestrator.Profile()
		return p != nil && p.OnboardingComplete
	}, "cache to converge via live subscription")
}
