package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"go.pilab.hu/sociallink/domain"
)

// ProviderConfig is the static configuration of one provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

// Provider is one external identity source. Identifier is the auxiliary
// input some providers need, such as an OpenID issuer URL; providers that
// do not need it ignore it.
type Provider interface {
	Name() string
	RequiresIdentifier() bool
	AuthCodeURL(ctx context.Context, state, redirectURL, identifier string) (string, error)
	Exchange(ctx context.Context, redirectURL, identifier, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token, identifier string) (*domain.Profile, error)
}

// BaseProvider is a plain OAuth2 provider with configured endpoints and a
// userinfo endpoint returning OIDC-style claims. Specific providers embed it.
type BaseProvider struct {
	Config ProviderConfig
}

func NewBaseProvider(cfg ProviderConfig) *BaseProvider {
	return &BaseProvider{Config: cfg}
}

func (b *BaseProvider) Name() string { return b.Config.Name }

func (b *BaseProvider) RequiresIdentifier() bool { return false }

// OAuth2Config builds the oauth2.Config for a callback URL.
func (b *BaseProvider) OAuth2Config(redirectURL string) (*oauth2.Config, error) {
	if b.Config.ClientID == "" || b.Config.ClientSecret == "" || b.Config.AuthURL == "" || b.Config.TokenURL == "" {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     b.Config.ClientID,
		ClientSecret: b.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       b.Config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.Config.AuthURL,
			TokenURL: b.Config.TokenURL,
		},
	}, nil
}

func (b *BaseProvider) AuthCodeURL(_ context.Context, state, redirectURL, _ string) (string, error) {
	conf, err := b.OAuth2Config(redirectURL)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

func (b *BaseProvider) Exchange(ctx context.Context, redirectURL, _ string, code string) (*oauth2.Token, error) {
	conf, err := b.OAuth2Config(redirectURL)
	if err != nil {
		return nil, err
	}
	return conf.Exchange(withHTTPClient(ctx), code)
}

// FetchProfile reads the configured userinfo endpoint.
func (b *BaseProvider) FetchProfile(ctx context.Context, token *oauth2.Token, _ string) (*domain.Profile, error) {
	if b.Config.UserInfoURL == "" {
		return nil, ErrProviderMisconfigured
	}
	claims, err := getJSON(ctx, httpClient(ctx, token), b.Config.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Config.Name, err)
	}
	return profileFromClaims(claims, "sub", "id"), nil
}

// Provider responses larger than this are rejected.
const maxResponseBytes = 1 << 20

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// withHTTPClient makes oauth2 use defaultHTTPClient unless ctx already
// carries a client.
func withHTTPClient(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, defaultHTTPClient)
}

func httpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(withHTTPClient(ctx), oauth2.StaticTokenSource(token))
}

func getJSON(ctx context.Context, client *http.Client, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d, body: %s", resp.StatusCode, string(body))
	}

	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out, nil
}

// profileFromClaims maps standard claims onto a Profile. The first non-empty
// of idKeys becomes the identifier.
func profileFromClaims(claims map[string]any, idKeys ...string) *domain.Profile {
	p := &domain.Profile{
		DisplayName: claimString(claims, "name"),
		Email:       claimString(claims, "email"),
		FirstName:   claimString(claims, "given_name"),
		LastName:    claimString(claims, "family_name"),
		PhotoURL:    claimString(claims, "picture"),
		Raw:         claims,
	}
	for _, k := range idKeys {
		if v := claimString(claims, k); v != "" {
			p.Identifier = v
			break
		}
	}
	return p
}

func claimString(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func splitName(fullName string) (string, string) {
	if fullName == "" {
		return "", ""
	}
	parts := strings.SplitN(fullName, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func withScopes(scopes []string, required ...string) []string {
	seen := make(map[string]bool, len(scopes)+len(required))
	var out []string
	for _, s := range append(append([]string{}, scopes...), required...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

var _ Provider = (*BaseProvider)(nil)
