package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Linker runs the anonymous-to-federated upgrade protocol and the
// reauthentication guard used before destructive provider calls.
type Linker struct {
	provider domain.AuthProvider
	ids      *Store
	creds    domain.CredentialSource
	sink     domain.EventSink

	// federatedProvider is the one provider this build can reauthenticate
	// with, e.g. "apple.com".
	federatedProvider string
}

func NewLinker(
	provider domain.AuthProvider,
	ids *Store,
	creds domain.CredentialSource,
	sink domain.EventSink,
	federatedProvider string,
) *Linker {
	return &Linker{
		provider:          provider,
		ids:               ids,
		creds:             creds,
		sink:              sink,
		federatedProvider: federatedProvider,
	}
}

// SignInAnonymously establishes a fresh anonymous identity.
func (l *Linker) SignInAnonymously(ctx context.Context) (*domain.Identity, bool, error) {
	id, isNew, err := l.provider.SignInAnonymously(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("anonymous sign-in: %w", err)
	}
	return id, isNew, nil
}

// UpgradeToFederated turns the active anonymous identity into a federated
// one by linking cred to it. When the credential already belongs to
// another account, that account wins: the anonymous identity is abandoned
// and the competing credential is signed in with instead. This is the
// conflict-resolution policy, not a retry.
func (l *Linker) UpgradeToFederated(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	log := observability.LoggerFromContext(ctx).With("provider", cred.ProviderID)

	cur := l.ids.Current()
	if cur != nil && cur.IsAnonymous {
		id, isNew, err := l.provider.LinkCredential(ctx, cred)
		if err == nil {
			log.Info("linked federated credential", "user_id", id.ID)
			return id, isNew, nil
		}

		switch domain.AuthCodeOf(err) {
		case domain.AuthCodeProviderAlreadyLinked, domain.AuthCodeCredentialAlreadyInUse:
			use := cred
			var ae *domain.AuthError
			if errors.As(err, &ae) && ae.Competing != nil {
				use = *ae.Competing
			}
			l.sink.Emit(ctx, "link.conflict_resolved",
				"code", string(domain.AuthCodeOf(err)),
				"abandoned_user_id", cur.ID,
			)
			log.Info("credential already in use, signing in with existing account")
			return l.signIn(ctx, use)
		}
		log.Warn("link failed, falling back to fresh sign-in", "error", err)
	}

	return l.signIn(ctx, cred)
}

func (l *Linker) signIn(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	id, isNew, err := l.provider.SignInWithCredential(ctx, cred)
	if err != nil {
		return nil, false, fmt.Errorf("federated sign-in: %w", err)
	}
	return id, isNew, nil
}

// RunWithReauth executes op, and when the provider rejects it with
// RequiresRecentLogin, re-proves credential freshness and retries op
// exactly once. The retry only happens if reauthentication resolves to the
// same account; a different account id aborts with
// ReauthAccountChangedError since silently continuing would operate on the
// wrong account. A second RequiresRecentLogin after reauth is surfaced
// as-is.
func (l *Linker) RunWithReauth(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !domain.IsAuthCode(err, domain.AuthCodeRequiresRecentLogin) {
		return err
	}

	cur := l.ids.Current()
	if cur == nil || !cur.HasProvider(l.federatedProvider) {
		// Not an identity we know how to reauthenticate; surface the
		// original failure.
		return err
	}

	l.sink.Emit(ctx, "reauth.triggered", "user_id", cur.ID)
	observability.LoggerFromContext(ctx).Info("reauthenticating before destructive call", "user_id", cur.ID)

	cred, cerr := l.creds.FreshFederatedCredential(ctx)
	if cerr != nil {
		return fmt.Errorf("reauth credential: %w", cerr)
	}

	reauthed, _, serr := l.provider.SignInWithCredential(ctx, cred)
	if serr != nil {
		return fmt.Errorf("reauth sign-in: %w", serr)
	}

	if reauthed.ID != cur.ID {
		l.sink.Emit(ctx, "reauth.account_changed",
			"expected_user_id", cur.ID,
			"actual_user_id", reauthed.ID,
		)
		return &domain.ReauthAccountChangedError{Expected: cur.ID, Actual: reauthed.ID}
	}

	return op(ctx)
}
