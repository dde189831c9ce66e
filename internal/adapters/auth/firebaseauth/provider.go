// Package firebaseauth implements domain.AuthProvider against Firebase
// Authentication. Client-side flows (anonymous sign-up, federated sign-in,
// credential linking, account deletion) go through the Identity Toolkit
// REST API, since no Go client-side SDK exists for them; identity metadata
// is enriched through the Admin SDK where a service account is available.
package firebaseauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

const defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

// Config for the Firebase auth provider.
type Config struct {
	// ProjectID enables Admin SDK enrichment (provider ids, account
	// timestamps). Empty disables it; sign-in still works via REST.
	ProjectID string

	// WebAPIKey is the Firebase web API key passed on every REST call.
	WebAPIKey string

	// BaseURL overrides the Identity Toolkit endpoint, for tests.
	BaseURL string

	HTTPClient *http.Client
}

// Provider holds the signed-in identity and its id token, and notifies
// listeners on every auth-state change. Auth state only moves through the
// provider's own calls; there is no background token stream.
type Provider struct {
	cfg   Config
	http  *http.Client
	admin *fbauth.Client

	mu           sync.Mutex
	current      *domain.Identity
	idToken      string
	listeners    map[int]func(*domain.Identity)
	nextListener int
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.WebAPIKey == "" {
		return nil, fmt.Errorf("WebAPIKey is required for the firebase auth provider")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{
		cfg:       cfg,
		http:      cfg.HTTPClient,
		listeners: make(map[int]func(*domain.Identity)),
	}

	if cfg.ProjectID != "" {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("creating firebase app: %w", err)
		}
		admin, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating firebase auth client: %w", err)
		}
		p.admin = admin
	}

	return p, nil
}

// ─────────────────────────────────────────
// REST payloads
// ─────────────────────────────────────────

type signUpResponse struct {
	LocalID string `json:"localId"`
	IDToken string `json:"idToken"`
}

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`

	// IDToken links the credential to the identified account instead of
	// signing in.
	IDToken string `json:"idToken,omitempty"`
}

type signInWithIdpResponse struct {
	LocalID    string `json:"localId"`
	Email      string `json:"email"`
	ProviderID string `json:"providerId"`
	IsNewUser  bool   `json:"isNewUser"`
	IDToken    string `json:"idToken"`

	// OauthIDToken carries the competing credential's token on conflict
	// responses when returnIdpCredential is set.
	OauthIDToken string `json:"oauthIdToken"`
}

type deleteAccountRequest struct {
	IDToken string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ─────────────────────────────────────────
// AuthProvider implementation
// ─────────────────────────────────────────

func (p *Provider) SignInAnonymously(ctx context.Context) (*domain.Identity, bool, error) {
	var resp signUpResponse
	err := p.post(ctx, "accounts:signUp", map[string]any{"returnSecureToken": true}, &resp, domain.Credential{})
	if err != nil {
		return nil, false, err
	}

	id := &domain.Identity{
		ID:           domain.UserID(resp.LocalID),
		IsAnonymous:  true,
		CreatedAt:    time.Now(),
		LastSignInAt: time.Now(),
	}
	p.setCurrent(id, resp.IDToken)
	return id, true, nil
}

func (p *Provider) SignInWithCredential(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	resp, err := p.signInWithIdp(ctx, cred, "")
	if err != nil {
		return nil, false, err
	}

	id := p.identityFromIdp(ctx, resp)
	p.setCurrent(id, resp.IDToken)
	return id, resp.IsNewUser, nil
}

func (p *Provider) LinkCredential(ctx context.Context, cred domain.Credential) (*domain.Identity, bool, error) {
	p.mu.Lock()
	token := p.idToken
	p.mu.Unlock()
	if token == "" {
		return nil, false, &domain.AuthError{Code: domain.AuthCodeInternal, Err: fmt.Errorf("no signed-in identity to link to")}
	}

	resp, err := p.signInWithIdp(ctx, cred, token)
	if err != nil {
		return nil, false, err
	}

	id := p.identityFromIdp(ctx, resp)
	p.setCurrent(id, resp.IDToken)
	return id, resp.IsNewUser, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.setCurrent(nil, "")
	return nil
}

func (p *Provider) DeleteIdentity(ctx context.Context) error {
	p.mu.Lock()
	token := p.idToken
	p.mu.Unlock()
	if token == "" {
		// Already signed out or deleted; idempotent.
		return nil
	}

	err := p.post(ctx, "accounts:delete", deleteAccountRequest{IDToken: token}, &struct{}{}, domain.Credential{})
	if err != nil {
		if domain.AuthCodeOf(err) == domain.AuthCodeInternal && isUserGone(err) {
			p.setCurrent(nil, "")
			return nil
		}
		return err
	}

	p.setCurrent(nil, "")
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

// ─────────────────────────────────────────
// Internals
// ─────────────────────────────────────────

func (p *Provider) signInWithIdp(ctx context.Context, cred domain.Credential, linkToken string) (*signInWithIdpResponse, error) {
	post := url.Values{
		"id_token":   {cred.IDToken},
		"providerId": {cred.ProviderID},
	}
	req := signInWithIdpRequest{
		PostBody:            post.Encode(),
		RequestURI:          "http://localhost",
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
		IDToken:             linkToken,
	}

	var resp signInWithIdpResponse
	if err := p.post(ctx, "accounts:signInWithIdp", req, &resp, cred); err != nil {
		return nil, err
	}
	return &resp, nil
}

// identityFromIdp builds the Identity from the sign-in response, enriched
// through the Admin SDK when available.
func (p *Provider) identityFromIdp(ctx context.Context, resp *signInWithIdpResponse) *domain.Identity {
	id := &domain.Identity{
		ID:           domain.UserID(resp.LocalID),
		Email:        resp.Email,
		IsAnonymous:  false,
		ProviderIDs:  []string{resp.ProviderID},
		LastSignInAt: time.Now(),
	}

	if p.admin != nil {
		rec, err := p.admin.GetUser(ctx, resp.LocalID)
		if err != nil {
			observability.Logger().Warn("admin user lookup failed", "user_id", resp.LocalID, "error", err)
			return id
		}
		id.ProviderIDs = id.ProviderIDs[:0]
		for _, info := range rec.ProviderUserInfo {
			id.ProviderIDs = append(id.ProviderIDs, info.ProviderID)
		}
		if rec.UserMetadata != nil {
			id.CreatedAt = time.UnixMilli(rec.UserMetadata.CreationTimestamp)
			id.LastSignInAt = time.UnixMilli(rec.UserMetadata.LastLogInTimestamp)
		}
	}
	return id
}

func (p *Provider) setCurrent(id *domain.Identity, token string) {
	p.mu.Lock()
	p.current = id
	p.idToken = token
	listeners := make([]func(*domain.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

func (p *Provider) post(ctx context.Context, endpoint string, payload any, out any, cred domain.Credential) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: err}
	}

	u := p.cfg.BaseURL + "/" + endpoint + "?key=" + url.QueryEscape(p.cfg.WebAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: fmt.Errorf("%s request failed: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: fmt.Errorf("read %s response: %w", endpoint, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return mapError(endpoint, resp.StatusCode, raw, cred)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: fmt.Errorf("parse %s response: %w", endpoint, err)}
	}
	return nil
}

// mapError translates Identity Toolkit error messages into the closed
// tagged set the core matches on.
func mapError(endpoint string, status int, raw []byte, cred domain.Credential) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	msg := er.Error.Message

	base := fmt.Errorf("%s failed with status %d: %s", endpoint, status, msg)

	switch {
	case strings.HasPrefix(msg, "FEDERATED_USER_ID_ALREADY_LINKED"):
		competing := cred
		return &domain.AuthError{Code: domain.AuthCodeProviderAlreadyLinked, Competing: &competing, Err: base}
	case strings.HasPrefix(msg, "EMAIL_EXISTS"), strings.HasPrefix(msg, "CREDENTIAL_ALREADY_IN_USE"):
		competing := cred
		return &domain.AuthError{Code: domain.AuthCodeCredentialAlreadyInUse, Competing: &competing, Err: base}
	case strings.HasPrefix(msg, "CREDENTIAL_TOO_OLD_LOGIN_AGAIN"), strings.HasPrefix(msg, "TOKEN_EXPIRED"):
		return &domain.AuthError{Code: domain.AuthCodeRequiresRecentLogin, Err: base}
	default:
		return &domain.AuthError{Code: domain.AuthCodeInternal, Err: base}
	}
}

func isUserGone(err error) bool {
	return strings.Contains(err.Error(), "USER_NOT_FOUND")
}

// compile-time interface check
var _ domain.AuthProvider = (*Provider)(nil)
