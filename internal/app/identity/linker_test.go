package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	authmem "github.com/rmaldonado/avachat/internal/adapters/auth/memory"
	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

const federatedProvider = "apple.com"

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(ctx context.Context, name string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *recordingSink) saw(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == name {
			return true
		}
	}
	return false
}

func staticCredential(cred domain.Credential) domain.CredentialSource {
	return domain.CredentialSourceFunc(func(ctx context.Context) (domain.Credential, error) {
		return cred, nil
	})
}

func newLinker(provider *authmem.Provider, creds domain.CredentialSource, sink domain.EventSink) (*identity.Linker, *identity.Store) {
	ids := identity.NewStore(provider, sink)
	return identity.NewLinker(provider, ids, creds, sink, federatedProvider), ids
}

func TestUpgradeLinksAnonymousIdentity(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()
	linker, ids := newLinker(provider, nil, observability.NopSink{})
	defer ids.Close()

	anon, isNew, err := linker.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	if !isNew || !anon.IsAnonymous {
		t.Fatalf("expected fresh anonymous identity, got %+v isNew=%v", anon, isNew)
	}

	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-1"}
	upgraded, _, err := linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("UpgradeToFederated failed: %v", err)
	}

	if upgraded.ID != anon.ID {
		t.Fatalf("linking must keep the anonymous user id: got %s, want %s", upgraded.ID, anon.ID)
	}
	if upgraded.IsAnonymous {
		t.Fatalf("upgraded identity still anonymous")
	}
	if !upgraded.HasProvider(federatedProvider) {
		t.Fatalf("upgraded identity missing provider %s: %+v", federatedProvider, upgraded)
	}
}

func TestUpgradeConflictResolvesToExistingAccount(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()
	sink := &recordingSink{}
	linker, ids := newLinker(provider, nil, sink)
	defer ids.Close()

	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-b"}
	existing := &domain.Identity{ID: "user-b", Email: "b@example.com"}
	provider.SeedFederated(cred, existing)

	anon, _, err := linker.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}

	got, isNew, err := linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("UpgradeToFederated failed: %v", err)
	}

	// The existing account wins; the anonymous identity is abandoned, not
	// merged.
	if got.ID != existing.ID {
		t.Fatalf("expected existing account %s, got %s", existing.ID, got.ID)
	}
	if isNew {
		t.Fatalf("conflict resolution must not report a new account")
	}
	if got.ID == anon.ID {
		t.Fatalf("anonymous identity should have been abandoned")
	}
	if !sink.saw("link.conflict_resolved") {
		t.Fatalf("expected link.conflict_resolved event, saw %v", sink.events)
	}
}

func TestUpgradeWithoutAnonymousSignsInFresh(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()
	linker, ids := newLinker(provider, nil, observability.NopSink{})
	defer ids.Close()

	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-fresh"}
	got, isNew, err := linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("UpgradeToFederated failed: %v", err)
	}
	if !isNew {
		t.Fatalf("expected a newly created account")
	}
	if got.IsAnonymous {
		t.Fatalf("expected federated identity, got anonymous")
	}
}

func TestRunWithReauthRetriesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()
	sink := &recordingSink{}

	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}
	linker, ids := newLinker(provider, staticCredential(cred), sink)
	defer ids.Close()

	user, _, err := linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	provider.RequireRecentLogin()

	calls := 0
	err = linker.RunWithReauth(ctx, func(ctx context.Context) error {
		calls++
		return provider.DeleteIdentity(ctx)
	})
	if err != nil {
		t.Fatalf("RunWithReauth failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected op to run twice (original + one retry), ran %d times", calls)
	}
	if provider.Exists(user.ID) {
		t.Fatalf("identity should be deleted after reauth retry")
	}
	if !sink.saw("reauth.triggered") {
		t.Fatalf("expected reauth.triggered event")
	}
}

func TestRunWithReauthAbortsOnAccountMismatch(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()

	otherCred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-w"}
	other := &domain.Identity{ID: "user-w"}
	provider.SeedFederated(otherCred, other)

	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}
	// Reauth resolves to the wrong account on purpose.
	linker, ids := newLinker(provider, staticCredential(otherCred), &recordingSink{})
	defer ids.Close()

	user, _, err := linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	provider.RequireRecentLogin()

	calls := 0
	err = linker.RunWithReauth(ctx, func(ctx context.Context) error {
		calls++
		return provider.DeleteIdentity(ctx)
	})

	var mismatch *domain.ReauthAccountChangedError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ReauthAccountChangedError, got %v", err)
	}
	if mismatch.Expected != user.ID || mismatch.Actual != other.ID {
		t.Fatalf("mismatch ids wrong: %+v", mismatch)
	}
	if calls != 1 {
		t.Fatalf("destructive op must not be retried after a mismatch, ran %d times", calls)
	}
	if !provider.Exists(user.ID) || !provider.Exists(other.ID) {
		t.Fatalf("no account may be deleted after a mismatch")
	}
}

func TestRunWithReauthPassesThroughUnrelatedIdentity(t *testing.T) {
	ctx := context.Background()
	provider := authmem.NewProvider()
	linker, ids := newLinker(provider, nil, observability.NopSink{})
	defer ids.Close()

	if _, _, err := linker.SignInAnonymously(ctx); err != nil {
		t.Fatalf("SignInAnonymously failed: %v", err)
	}
	provider.RequireRecentLogin()

	err := linker.RunWithReauth(ctx, func(ctx context.Context) error {
		return provider.DeleteIdentity(ctx)
	})
	// An anonymous identity has no federated provider to reauthenticate
	// with; the original failure is surfaced.
	if !domain.IsAuthCode(err, domain.AuthCodeRequiresRecentLogin) {
		t.Fatalf("expected RequiresRecentLogin passthrough, got %v", err)
	}
}
