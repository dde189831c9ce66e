package purge

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rmaldonado/avachat/internal/app/chat"
	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Resource names as they appear in DeletionReport entries.
const (
	ResourceIdentity      = "identity"
	ResourceProfile       = "profile"
	ResourceAvatars       = "avatars"
	ResourceLocal         = "local"
	ResourceConversations = "conversations"
)

// Coordinator permanently removes everything tied to a user: the provider
// identity, the profile record, authorship links on avatars, device-local
// caches, and every conversation.
//
// The cascade is best-effort across independent systems: every step is
// attempted even after an earlier failure, outcomes land in the
// DeletionReport, failures are joined into one aggregate error, and
// nothing is ever rolled back. Retrying the whole cascade is the recovery
// path; steps treat already-deleted resources as success.
type Coordinator struct {
	linker   *identity.Linker
	provider domain.AuthProvider
	profiles domain.ProfileStore
	avatars  domain.AvatarStore
	local    domain.LocalStore
	chats    *chat.Sync
	sink     domain.EventSink
}

func NewCoordinator(
	linker *identity.Linker,
	provider domain.AuthProvider,
	profiles domain.ProfileStore,
	avatars domain.AvatarStore,
	local domain.LocalStore,
	chats *chat.Sync,
	sink domain.EventSink,
) *Coordinator {
	return &Coordinator{
		linker:   linker,
		provider: provider,
		profiles: profiles,
		avatars:  avatars,
		local:    local,
		chats:    chats,
		sink:     sink,
	}
}

// PurgeAccount runs the deletion cascade for userID. The provider identity
// goes first, behind the reauthentication guard, so the remaining steps
// run with a freshly proven credential. If reauthentication resolves to a
// different account the whole cascade aborts immediately; deleting any
// data at that point would hit the wrong account.
func (c *Coordinator) PurgeAccount(ctx context.Context, userID domain.UserID) (*domain.DeletionReport, error) {
	log := observability.LoggerFromContext(ctx).With("user_id", userID)
	log.Info("account purge started")

	report := &domain.DeletionReport{}
	var failures []error

	step := func(resource string, fn func() error) {
		report.Attempted(resource)
		if err := fn(); err != nil {
			c.sink.Emit(ctx, "cascade.step_failed", "resource", resource, "user_id", userID)
			log.Error("cascade step failed", "resource", resource, "error", err)
			report.Failed(resource)
			failures = append(failures, fmt.Errorf("%s: %w", resource, err))
			return
		}
		report.Succeeded(resource)
	}

	step(ResourceIdentity, func() error {
		return c.linker.RunWithReauth(ctx, func(ctx context.Context) error {
			return c.provider.DeleteIdentity(ctx)
		})
	})

	// An account mismatch during reauth is the one failure that stops the
	// cascade outright: none of the remaining data may be touched.
	var mismatch *domain.ReauthAccountChangedError
	if len(failures) > 0 && errors.As(failures[len(failures)-1], &mismatch) {
		return report, failures[len(failures)-1]
	}

	step(ResourceProfile, func() error {
		return c.profiles.Delete(ctx, userID)
	})

	step(ResourceAvatars, func() error {
		return c.unlinkAuthoredAvatars(ctx, userID)
	})

	step(ResourceLocal, func() error {
		return c.local.ClearUser(ctx, userID)
	})

	step(ResourceConversations, func() error {
		return c.chats.DeleteAllConversationsForUser(ctx, userID)
	})

	c.sink.Emit(ctx, "cascade.completed",
		"user_id", userID,
		"attempted", len(report.ResourcesAttempted),
		"failed", len(report.ResourcesFailed),
	)

	if len(failures) > 0 {
		return report, errors.Join(failures...)
	}
	log.Info("account purge completed")
	return report, nil
}

// unlinkAuthoredAvatars clears the authorship field on every avatar the
// user created. An update fan-out, not a delete: avatars stay live for
// other users. Unordered concurrency, all-or-error.
func (c *Coordinator) unlinkAuthoredAvatars(ctx context.Context, userID domain.UserID) error {
	avatars, err := c.avatars.ListByAuthor(ctx, userID)
	if err != nil {
		return fmt.Errorf("list authored avatars: %w", err)
	}

	var g errgroup.Group
	for _, av := range avatars {
		av := av
		g.Go(func() error {
			if err := c.avatars.ClearAuthor(ctx, av.ID); err != nil {
				return fmt.Errorf("clear author on avatar %s: %w", av.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
