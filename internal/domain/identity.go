package domain

// Identity is the authenticated principal as reported by the auth provider.
// It is an immutable value: the provider replaces it wholesale on every
// auth-state change, it is never mutated in place.
type Identity struct {
	ID          UserID
	Email       string
	IsAnonymous bool

	// Provider ids linked to this account, e.g. "apple.com". Empty for a
	// purely anonymous identity.
	ProviderIDs []string

	CreatedAt    Timestamp
	LastSignInAt Timestamp
}

// HasProvider reports whether the given federated provider is linked.
func (i *Identity) HasProvider(providerID string) bool {
	for _, p := range i.ProviderIDs {
		if p == providerID {
			return true
		}
	}
	return false
}

// Credential is a federated-provider credential (an OIDC token pair issued
// by e.g. Sign in with Apple) that can be signed in with or linked to an
// existing identity.
type Credential struct {
	ProviderID string
	IDToken    string
}
