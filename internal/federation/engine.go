package federation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"go.pilab.hu/sociallink/session"
)

// Engine holds the registered providers and the base callback URL. It is
// safe to share between requests; per-request state lives in a Client.
type Engine struct {
	callbackURL string
	providers   map[string]Provider
	order       []string
}

// NewEngine creates an engine. callbackURL is the base URL providers
// redirect back to; the provider name is appended as the last path segment.
func NewEngine(callbackURL string, providers ...Provider) *Engine {
	e := &Engine{
		callbackURL: strings.TrimRight(callbackURL, "/"),
		providers:   make(map[string]Provider),
	}
	for _, p := range providers {
		e.RegisterProvider(p)
	}
	return e
}

// RegisterProvider adds or replaces a provider by name.
func (e *Engine) RegisterProvider(p Provider) {
	if _, ok := e.providers[p.Name()]; !ok {
		e.order = append(e.order, p.Name())
	}
	e.providers[p.Name()] = p
}

// Provider returns a registered provider.
func (e *Engine) Provider(name string) (Provider, error) {
	p, ok := e.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Providers returns the registered provider names in registration order.
func (e *Engine) Providers() []string {
	return append([]string(nil), e.order...)
}

// RedirectURL is the callback URL for one provider,
// e.g. https://app.example.com/social_login/endpoint/Google
func (e *Engine) RedirectURL(name string) string {
	return fmt.Sprintf("%s/%s", e.callbackURL, url.PathEscape(name))
}

// Client binds the engine to one session's storage.
func (e *Engine) Client(storage *session.Storage) *Client {
	return &Client{engine: e, storage: storage}
}

// GenerateAuthState generates a unique, unguessable string for the state parameter.
func GenerateAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// NewProvider builds a provider of the given kind. Known kinds are google,
// github, facebook, openid and oauth2; oauth2 uses the endpoints in cfg.
func NewProvider(kind string, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(kind) {
	case "google":
		return NewGoogleProvider(cfg), nil
	case "github":
		return NewGitHubProvider(cfg), nil
	case "facebook":
		return NewFacebookProvider(cfg), nil
	case "openid", "oidc":
		return NewOpenIDProvider(cfg), nil
	case "oauth2", "":
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: oauth2 provider needs a name", ErrProviderMisconfigured)
		}
		return NewBaseProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider kind %q", ErrProviderMisconfigured, kind)
	}
}
