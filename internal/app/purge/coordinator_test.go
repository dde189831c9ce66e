package purge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authmem "github.com/rmaldonado/avachat/internal/adapters/auth/memory"
	memstore "github.com/rmaldonado/avachat/internal/adapters/storage/memory"
	"github.com/rmaldonado/avachat/internal/app/chat"
	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/app/purge"
	"github.com/rmaldonado/avachat/internal/domain"
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

type world struct {
	provider      *authmem.Provider
	ids           *identity.Store
	linker        *identity.Linker
	profiles      *memstore.ProfileStore
	avatars       *memstore.AvatarStore
	local         *memstore.LocalStore
	conversations *memstore.ConversationStore
	messages      *memstore.MessageStore
	chats         *chat.Sync
	coordinator   *purge.Coordinator
	sink          *recordingSink
}

// newWorld wires the whole cascade over in-memory backends. creds is what
// reauthentication will resolve with; pass the user's own credential for the
// happy path or a different account's to force a mismatch.
func newWorld(t *testing.T, creds domain.CredentialSource) *world {
	t.Helper()
	w := &world{
		provider:      authmem.NewProvider(),
		profiles:      memstore.NewProfileStore(),
		avatars:       memstore.NewAvatarStore(),
		local:         memstore.NewLocalStore(),
		conversations: memstore.NewConversationStore(),
		messages:      memstore.NewMessageStore(),
		sink:          &recordingSink{},
	}
	w.ids = identity.NewStore(w.provider, w.sink)
	w.linker = identity.NewLinker(w.provider, w.ids, creds, w.sink, federatedProvider)
	w.chats = chat.NewSync(w.conversations, w.messages, w.sink)
	w.coordinator = purge.NewCoordinator(w.linker, w.provider, w.profiles, w.avatars, w.local, w.chats, w.sink)

	t.Cleanup(w.ids.Close)
	return w
}

// populate signs in a federated user and gives it a profile, an authored
// avatar, a local cache entry, and two conversations with messages.
func (w *world) populate(t *testing.T, cred domain.Credential) *domain.Identity {
	t.Helper()
	ctx := context.Background()

	user, _, err := w.linker.UpgradeToFederated(ctx, cred)
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	if err := w.profiles.CreateIfAbsent(ctx, &domain.Profile{UserID: user.ID, ProfileColor: "teal"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	w.avatars.Put(&domain.Avatar{ID: "av-own", AuthorID: user.ID, Name: "Mine"})
	w.avatars.Put(&domain.Avatar{ID: "av-other", AuthorID: "someone-else", Name: "Theirs"})
	w.local.Put(user.ID, "draft:av-own", "unfinished thought")

	for _, avatar := range []domain.AvatarID{"av-own", "av-other"} {
		conv, err := w.chats.GetOrCreateConversation(ctx, user.ID, avatar)
		if err != nil {
			t.Fatalf("seed conversation %s: %v", avatar, err)
		}
		if err := w.chats.AppendMessage(ctx, conv.ID, &domain.Message{AuthorID: user.ID, Content: "hi", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	return user
}

func staticCredential(cred domain.Credential) domain.CredentialSource {
	return domain.CredentialSourceFunc(func(ctx context.Context) (domain.Credential, error) {
		return cred, nil
	})
}

func TestPurgeAccountRemovesEverything(t *testing.T) {
	ctx := context.Background()
	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}
	w := newWorld(t, staticCredential(cred))
	user := w.populate(t, cred)

	report, err := w.coordinator.PurgeAccount(ctx, user.ID)
	if err != nil {
		t.Fatalf("PurgeAccount failed: %v", err)
	}

	for _, resource := range []string{
		purge.ResourceIdentity,
		purge.ResourceProfile,
		purge.ResourceAvatars,
		purge.ResourceLocal,
		purge.ResourceConversations,
	} {
		if !report.SucceededFor(resource) {
			t.Fatalf("resource %s did not succeed: %+v", resource, report)
		}
	}
	if len(report.ResourcesFailed) != 0 {
		t.Fatalf("unexpected failures: %v", report.ResourcesFailed)
	}

	if w.provider.Exists(user.ID) {
		t.Fatalf("provider identity survived")
	}
	if _, err := w.profiles.Get(ctx, user.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("profile survived: %v", err)
	}
	av, err := w.avatars.Get(ctx, "av-own")
	if err != nil {
		t.Fatalf("authored avatar must outlive its author: %v", err)
	}
	if av.AuthorID != "" {
		t.Fatalf("authorship not cleared: %q", av.AuthorID)
	}
	other, err := w.avatars.Get(ctx, "av-other")
	if err != nil || other.AuthorID != "someone-else" {
		t.Fatalf("someone else's avatar was touched: %+v, %v", other, err)
	}
	if _, ok := w.local.Get(user.ID, "draft:av-own"); ok {
		t.Fatalf("local cache survived")
	}
	if w.conversations.Len() != 0 {
		t.Fatalf("%d conversations survived", w.conversations.Len())
	}
	if !w.sink.saw("cascade.completed") {
		t.Fatalf("expected cascade.completed event, saw %v", w.sink.events)
	}
}

func TestPurgeAccountContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}
	w := newWorld(t, staticCredential(cred))
	user := w.populate(t, cred)

	w.profiles.DeleteErr = errors.New("backend unavailable")

	report, err := w.coordinator.PurgeAccount(ctx, user.ID)
	if err == nil {
		t.Fatalf("expected the profile failure to surface")
	}

	// Every step after the failed one still ran.
	if len(report.ResourcesAttempted) != 5 {
		t.Fatalf("expected all 5 steps attempted, got %v", report.ResourcesAttempted)
	}
	if len(report.ResourcesFailed) != 1 || report.ResourcesFailed[0] != purge.ResourceProfile {
		t.Fatalf("expected only the profile step to fail, got %v", report.ResourcesFailed)
	}
	if !report.SucceededFor(purge.ResourceConversations) {
		t.Fatalf("conversation cleanup should have proceeded: %+v", report)
	}
	if !w.sink.saw("cascade.step_failed") {
		t.Fatalf("expected cascade.step_failed event")
	}

	// The recovery path is rerunning the cascade once the fault clears;
	// already-deleted resources read as success.
	w.profiles.DeleteErr = nil
	report, err = w.coordinator.PurgeAccount(ctx, user.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(report.ResourcesFailed) != 0 {
		t.Fatalf("retry reported failures: %v", report.ResourcesFailed)
	}
	if _, err := w.profiles.Get(ctx, user.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("profile survived the retry: %v", err)
	}
}

func TestPurgeAccountRunsReauthWhenRequired(t *testing.T) {
	ctx := context.Background()
	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}
	w := newWorld(t, staticCredential(cred))
	user := w.populate(t, cred)

	w.provider.RequireRecentLogin()

	report, err := w.coordinator.PurgeAccount(ctx, user.ID)
	if err != nil {
		t.Fatalf("PurgeAccount failed: %v", err)
	}
	if !report.SucceededFor(purge.ResourceIdentity) {
		t.Fatalf("identity step should succeed after reauth: %+v", report)
	}
	if !w.sink.saw("reauth.triggered") {
		t.Fatalf("expected reauth.triggered event, saw %v", w.sink.events)
	}
	if w.provider.Exists(user.ID) {
		t.Fatalf("identity survived the reauthenticated deletion")
	}
}

func TestPurgeAccountAbortsOnReauthAccountMismatch(t *testing.T) {
	ctx := context.Background()

	otherCred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-w"}
	cred := domain.Credential{ProviderID: federatedProvider, IDToken: "tok-u"}

	// Reauthentication resolves to somebody else's account.
	w := newWorld(t, staticCredential(otherCred))
	w.provider.SeedFederated(otherCred, &domain.Identity{ID: "user-w"})
	user := w.populate(t, cred)

	w.provider.RequireRecentLogin()

	report, err := w.coordinator.PurgeAccount(ctx, user.ID)

	var mismatch *domain.ReauthAccountChangedError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ReauthAccountChangedError, got %v", err)
	}

	// The cascade stops dead: only the identity step was attempted, and no
	// data belonging to either account was touched.
	if len(report.ResourcesAttempted) != 1 || report.ResourcesAttempted[0] != purge.ResourceIdentity {
		t.Fatalf("cascade ran past the mismatch: %v", report.ResourcesAttempted)
	}
	if !w.provider.Exists(user.ID) || !w.provider.Exists("user-w") {
		t.Fatalf("an account was deleted despite the mismatch")
	}
	if _, err := w.profiles.Get(ctx, user.ID); err != nil {
		t.Fatalf("profile should be intact: %v", err)
	}
	if w.conversations.Len() != 2 {
		t.Fatalf("conversations should be intact, %d left", w.conversations.Len())
	}
	if _, ok := w.local.Get(user.ID, "draft:av-own"); !ok {
		t.Fatalf("local cache should be intact")
	}
}
