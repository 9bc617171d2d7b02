package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/session"
)

// Storage keys, relative to the provider name.
const (
	keyState      = "state"
	keyReturnTo   = "return_to"
	keyIdentifier = "identifier"
	keyToken      = "token"
)

// Params are the inputs of an authentication attempt.
type Params struct {
	// ReturnTo is where the user lands after the provider callback.
	ReturnTo string
	// Identifier is the auxiliary input of providers that require one.
	Identifier string
}

// RedirectError is returned by Authenticate when the user must be sent to
// the provider. It is control flow, not a failure.
type RedirectError struct {
	Provider string
	URL      string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s for authentication", e.Provider)
}

// AsRedirect reports whether err asks for a redirect.
func AsRedirect(err error) (*RedirectError, bool) {
	var r *RedirectError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Adapter is a provider connected in the current session.
type Adapter interface {
	Provider() string
	UserProfile(ctx context.Context) (*domain.Profile, error)
	Disconnect() error
}

// Client is the engine bound to one session. All of its state is kept in
// the session Storage, so a new Client per request sees the same connections.
type Client struct {
	engine  *Engine
	storage *session.Storage
}

func key(provider, k string) string {
	return provider + "." + k
}

// RequiresIdentifier reports whether the named provider needs an identifier.
func (c *Client) RequiresIdentifier(name string) (bool, error) {
	p, err := c.engine.Provider(name)
	if err != nil {
		return false, err
	}
	return p.RequiresIdentifier(), nil
}

// Authenticate returns the adapter when the provider is already connected.
// Otherwise it records a new state and returns a *RedirectError carrying
// the provider's authorization URL.
func (c *Client) Authenticate(ctx context.Context, name string, params Params) (Adapter, error) {
	p, err := c.engine.Provider(name)
	if err != nil {
		return nil, err
	}
	if adapter, err := c.Adapter(name); err == nil {
		return adapter, nil
	}

	if p.RequiresIdentifier() && params.Identifier == "" {
		return nil, fmt.Errorf("%w: %s", ErrIdentifierRequired, name)
	}

	state, err := GenerateAuthState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate auth state: %w", err)
	}

	authURL, err := p.AuthCodeURL(ctx, state, c.engine.RedirectURL(name), params.Identifier)
	if err != nil {
		return nil, err
	}

	if err := c.storage.Set(key(name, keyState), state); err != nil {
		return nil, err
	}
	if err := c.storage.Set(key(name, keyReturnTo), params.ReturnTo); err != nil {
		return nil, err
	}
	if err := c.storage.Set(key(name, keyIdentifier), params.Identifier); err != nil {
		return nil, err
	}

	return nil, &RedirectError{Provider: name, URL: authURL}
}

// HandleCallback validates the returned state, exchanges the code and
// stores the token. It returns the URL recorded by Authenticate.
func (c *Client) HandleCallback(ctx context.Context, name, state, code string) (string, error) {
	p, err := c.engine.Provider(name)
	if err != nil {
		return "", err
	}

	expected := c.storage.GetString(key(name, keyState))
	if state == "" || expected == "" || state != expected {
		return "", ErrInvalidAuthState
	}
	if err := c.storage.Delete(key(name, keyState)); err != nil {
		return "", err
	}

	identifier := c.storage.GetString(key(name, keyIdentifier))
	token, err := p.Exchange(ctx, c.engine.RedirectURL(name), identifier, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeCodeFailed, err)
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	if err := c.storage.Set(key(name, keyToken), string(raw)); err != nil {
		return "", err
	}

	return c.storage.GetString(key(name, keyReturnTo)), nil
}

// IsConnected reports whether the session holds a token for the provider.
func (c *Client) IsConnected(name string) bool {
	return c.storage.GetString(key(name, keyToken)) != ""
}

// ConnectedProviders lists connected providers in registration order.
func (c *Client) ConnectedProviders() []string {
	var out []string
	for _, name := range c.engine.order {
		if c.IsConnected(name) {
			out = append(out, name)
		}
	}
	return out
}

// Adapter returns the connected adapter for a provider.
func (c *Client) Adapter(name string) (Adapter, error) {
	p, err := c.engine.Provider(name)
	if err != nil {
		return nil, err
	}

	raw := c.storage.GetString(key(name, keyToken))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("%w: %s: stored token unreadable", ErrNotConnected, name)
	}

	return &adapter{
		provider:   p,
		token:      &token,
		identifier: c.storage.GetString(key(name, keyIdentifier)),
		storage:    c.storage,
	}, nil
}

// DisconnectAll forgets every provider in the session.
func (c *Client) DisconnectAll() error {
	return c.storage.Clear()
}

type adapter struct {
	provider   Provider
	token      *oauth2.Token
	identifier string
	storage    *session.Storage
}

func (a *adapter) Provider() string { return a.provider.Name() }

func (a *adapter) UserProfile(ctx context.Context) (*domain.Profile, error) {
	profile, err := a.provider.FetchProfile(ctx, a.token, a.identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchUserInfoFailed, err)
	}
	if profile == nil || profile.Identifier == "" {
		return nil, fmt.Errorf("%w: %s returned no identifier", ErrFetchUserInfoFailed, a.provider.Name())
	}
	return profile, nil
}

// Disconnect removes this provider's subtree only. A substring match on the
// name would also hit providers whose names end with it.
func (a *adapter) Disconnect() error {
	return a.storage.Delete(a.provider.Name())
}
