// Package memory provides a scripted in-memory auth provider, used in
// local mode and in tests the way the real Firebase backend is used in
// production: same contract, no network.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmaldonado/avachat/internal/domain"
)

// Provider implements domain.AuthProvider against process-local state.
//
// Test knobs: SeedFederated registers an existing federated account so
// linking its credential conflicts; RequireRecentLogin arms the next
// DeleteIdentity with a RequiresRecentLogin failure that clears on the
// next successful federated sign-in.
type Provider struct {
	mu           sync.Mutex
	current      *domain.Identity
	accounts     map[domain.UserID]*domain.Identity
	byCredential map[string]domain.UserID
	listeners    map[int]func(*domain.Identity)
	nextListener int

	staleLogin bool

	DeleteErr error
}

func NewProvider() *Provider {
	return &Provider{
		accounts:     make(map[domain.UserID]*domain.Identity),
		byCredential: make(map[string]domain.UserID),
		listeners:    make(map[int]func(*domain.Identity)),
	}
}

// SeedFederated registers an existing federated account owning cred.
func (p *Provider) SeedFederated(cred domain.Credential, id *domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *id
	cp.IsAnonymous = false
	if !cp.HasProvider(cred.ProviderID) {
		cp.ProviderIDs = append(cp.ProviderIDs, cred.ProviderID)
	}
	p.accounts[cp.ID] = &cp
	p.byCredential[credentialKey(cred)] = cp.ID
}

// RequireRecentLogin makes destructive calls fail with RequiresRecentLogin
// until a federated sign-in happens.
func (p *Provider) RequireRecentLogin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleLogin = true
}

func (p *Provider) SignInAnonymously(ctx context.Context) (*domain.Identity, bool, error) {
	now := time.Now()
	id := &domain.Identity{
		ID:           domain.UserID("anon-" + uuid.NewString()),
		IsAnonymous:  true,
		CreatedAt:    now,
		LastSignInAt: now,
	}

	p.mu.Lock()
	p.accounts[id.ID] = id
	p.setCurrentLocked(id)
	p.mu.Unlock()

	return cloneIdentity(id), true, nil
}

func (p *Provider) SignInWithCredential(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.staleLogin = false

	if owner, ok := p.byCredential[credentialKey(cred)]; ok {
		id := p.accounts[owner]
		id.LastSignInAt = time.Now()
		p.setCurrentLocked(id)
		return cloneIdentity(id), false, nil
	}

	now := time.Now()
	id := &domain.Identity{
		ID:           domain.UserID(uuid.NewString()),
		IsAnonymous:  false,
		ProviderIDs:  []string{cred.ProviderID},
		CreatedAt:    now,
		LastSignInAt: now,
	}
	p.accounts[id.ID] = id
	p.byCredential[credentialKey(cred)] = id.ID
	p.setCurrentLocked(id)
	return cloneIdentity(id), true, nil
}

func (p *Provider) LinkCredential(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, false, &domain.AuthError{Code: domain.AuthCodeInternal, Err: fmt.Errorf("no signed-in identity to link to")}
	}

	if _, taken := p.byCredential[credentialKey(cred)]; taken {
		// The failure detail carries the competing credential, exactly as
		// the real provider reports it.
		competing := cred
		return nil, false, &domain.AuthError{
			Code:      domain.AuthCodeCredentialAlreadyInUse,
			Competing: &competing,
		}
	}
	if p.current.HasProvider(cred.ProviderID) {
		competing := cred
		return nil, false, &domain.AuthError{
			Code:      domain.AuthCodeProviderAlreadyLinked,
			Competing: &competing,
		}
	}

	id := p.accounts[p.current.ID]
	id.IsAnonymous = false
	id.ProviderIDs = append(id.ProviderIDs, cred.ProviderID)
	id.LastSignInAt = time.Now()
	p.byCredential[credentialKey(cred)] = id.ID
	p.staleLogin = false
	p.setCurrentLocked(id)
	return cloneIdentity(id), false, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCurrentLocked(nil)
	return nil
}

func (p *Provider) DeleteIdentity(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	if p.current == nil {
		// Already gone; deletion is idempotent.
		return nil
	}
	if p.staleLogin {
		return &domain.AuthError{Code: domain.AuthCodeRequiresRecentLogin}
	}

	delete(p.accounts, p.current.ID)
	for key, owner := range p.byCredential {
		if owner == p.current.ID {
			delete(p.byCredential, key)
		}
	}
	p.setCurrentLocked(nil)
	return nil
}

func (p *Provider) Subscribe(fn func(*domain.Identity)) func() {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Exists reports whether an account is still registered (test helper).
func (p *Provider) Exists(userID domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.accounts[userID]
	return ok
}

func (p *Provider) setCurrentLocked(id *domain.Identity) {
	p.current = id
	for _, fn := range p.listeners {
		fn(cloneIdentity(id))
	}
}

func credentialKey(cred domain.Credential) string {
	return cred.ProviderID + "|" + cred.IDToken
}

func cloneIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	cp.ProviderIDs = append([]string(nil), id.ProviderIDs...)
	return &cp
}
