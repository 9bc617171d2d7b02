package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"

	"go.pilab.hu/sociallink/domain"
)

const discoveryPath = "/.well-known/openid-configuration"

// Issuers are user supplied, so the discovery cache is bounded.
const (
	discoveryTTL      = time.Hour
	discoveryCapacity = 1024
)

// Discovery is the subset of an OpenID Provider Metadata document we use.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// OpenIDProvider signs users in with any OpenID Connect issuer. The issuer
// URL is the identifier the user supplies at login.
type OpenIDProvider struct {
	*BaseProvider

	// HTTPClient is used for discovery. Defaults to a client with a timeout.
	HTTPClient *http.Client

	discovered *ttlcache.Cache[string, *Discovery]
}

// NewOpenIDProvider creates a provider whose endpoints are discovered per issuer.
func NewOpenIDProvider(cfg ProviderConfig) *OpenIDProvider {
	if cfg.Name == "" {
		cfg.Name = "OpenID"
	}
	cfg.Scopes = withScopes(cfg.Scopes, "openid", "profile", "email")

	return &OpenIDProvider{
		BaseProvider: NewBaseProvider(cfg),
		discovered: ttlcache.New(
			ttlcache.WithTTL[string, *Discovery](discoveryTTL),
			ttlcache.WithCapacity[string, *Discovery](discoveryCapacity),
			ttlcache.WithDisableTouchOnHit[string, *Discovery](),
		),
	}
}

func (o *OpenIDProvider) RequiresIdentifier() bool { return true }

func normalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

// Discover loads and caches the issuer's metadata. The document must name
// the issuer it was fetched from.
func (o *OpenIDProvider) Discover(ctx context.Context, issuer string) (*Discovery, error) {
	issuer = normalizeIssuer(issuer)
	if issuer == "" {
		return nil, ErrIdentifierRequired
	}
	if u, err := url.Parse(issuer); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid issuer %q", ErrDiscoveryFailed, issuer)
	}
	if item := o.discovered.Get(issuer); item != nil {
		return item.Value(), nil
	}

	client := o.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+discoveryPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDiscoveryFailed, resp.StatusCode)
	}

	var d Discovery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	if d.AuthorizationEndpoint == "" || d.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: missing endpoints", ErrDiscoveryFailed)
	}
	if normalizeIssuer(d.Issuer) != issuer {
		return nil, fmt.Errorf("%w: document names issuer %q, fetched from %q", ErrDiscoveryFailed, d.Issuer, issuer)
	}
	d.Issuer = issuer

	o.discovered.Set(issuer, &d, ttlcache.DefaultTTL)
	return &d, nil
}

func (o *OpenIDProvider) oauth2Config(ctx context.Context, redirectURL, issuer string) (*oauth2.Config, *Discovery, error) {
	if o.Config.ClientID == "" {
		return nil, nil, ErrProviderMisconfigured
	}
	d, err := o.Discover(ctx, issuer)
	if err != nil {
		return nil, nil, err
	}
	return &oauth2.Config{
		ClientID:     o.Config.ClientID,
		ClientSecret: o.Config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       o.Config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.AuthorizationEndpoint,
			TokenURL: d.TokenEndpoint,
		},
	}, d, nil
}

func (o *OpenIDProvider) AuthCodeURL(ctx context.Context, state, redirectURL, issuer string) (string, error) {
	conf, _, err := o.oauth2Config(ctx, redirectURL, issuer)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

func (o *OpenIDProvider) Exchange(ctx context.Context, redirectURL, issuer, code string) (*oauth2.Token, error) {
	conf, _, err := o.oauth2Config(ctx, redirectURL, issuer)
	if err != nil {
		return nil, err
	}
	return conf.Exchange(withHTTPClient(ctx), code)
}

// FetchProfile reads the issuer's userinfo endpoint. The profile identifier
// is always the issuer and subject joined by "#": an issuer only speaks for
// its own subjects, even ones that look like URLs of another host.
func (o *OpenIDProvider) FetchProfile(ctx context.Context, token *oauth2.Token, issuer string) (*domain.Profile, error) {
	d, err := o.Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if d.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("%w: issuer has no userinfo endpoint", ErrProviderMisconfigured)
	}

	claims, err := getJSON(ctx, httpClient(ctx, token), d.UserinfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("openid: %w", err)
	}

	p := profileFromClaims(claims)
	p.Identifier = subjectIdentifier(issuer, claimString(claims, "sub"))
	if p.Identifier == "" {
		return nil, fmt.Errorf("openid: userinfo has no subject")
	}
	return p, nil
}

func subjectIdentifier(issuer, sub string) string {
	if sub == "" {
		return ""
	}
	return normalizeIssuer(issuer) + "#" + sub
}

var _ Provider = (*OpenIDProvider)(nil)
