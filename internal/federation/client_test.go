package federation_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/session"
)

// fakeProvider answers without any network access.
type fakeProvider struct {
	name        string
	needsID     bool
	exchangeErr error
	profileErr  error
	profile     *domain.Profile
	lastID      string
}

func (f *fakeProvider) Name() string             { return f.name }
func (f *fakeProvider) RequiresIdentifier() bool { return f.needsID }

func (f *fakeProvider) AuthCodeURL(_ context.Context, state, redirectURL, identifier string) (string, error) {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURL}, "id": {identifier}}
	return "https://idp.example.com/auth?" + q.Encode(), nil
}

func (f *fakeProvider) Exchange(_ context.Context, _, identifier, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	f.lastID = identifier
	return &oauth2.Token{AccessToken: "token-for-" + code, TokenType: "Bearer"}, nil
}

func (f *fakeProvider) FetchProfile(_ context.Context, token *oauth2.Token, _ string) (*domain.Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &domain.Profile{Identifier: token.AccessToken}, nil
}

func newClient(providers ...federation.Provider) (*federation.Client, *session.Document) {
	doc := session.NewDocument("sess-1")
	engine := federation.NewEngine("https://app.example.com/social_login/endpoint/", providers...)
	return engine.Client(session.NewStorage(doc)), doc
}

func authenticate(t *testing.T, c *federation.Client, name string, params federation.Params) string {
	t.Helper()
	_, err := c.Authenticate(context.Background(), name, params)
	redirect, ok := federation.AsRedirect(err)
	require.True(t, ok, "expected redirect, got %v", err)
	assert.Equal(t, name, redirect.Provider)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestEngine_RedirectURL(t *testing.T) {
	e := federation.NewEngine("https://app.example.com/social_login/endpoint/")
	assert.Equal(t, "https://app.example.com/social_login/endpoint/Google", e.RedirectURL("Google"))
	assert.Equal(t, "https://app.example.com/social_login/endpoint/My%20IdP", e.RedirectURL("My IdP"))
}

func TestEngine_RegistrationOrder(t *testing.T) {
	e := federation.NewEngine("https://app", &fakeProvider{name: "B"}, &fakeProvider{name: "A"})
	e.RegisterProvider(&fakeProvider{name: "B"})
	e.RegisterProvider(&fakeProvider{name: "C"})
	assert.Equal(t, []string{"B", "A", "C"}, e.Providers())

	_, err := e.Provider("D")
	assert.ErrorIs(t, err, federation.ErrProviderNotFound)
}

func TestClient_FullFlow(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(&fakeProvider{name: "Google"}, &fakeProvider{name: "GitHub"})

	state := authenticate(t, c, "Google", federation.Params{ReturnTo: "/after"})
	require.NotEmpty(t, state)
	assert.False(t, c.IsConnected("Google"))

	returnTo, err := c.HandleCallback(ctx, "Google", state, "abc")
	require.NoError(t, err)
	assert.Equal(t, "/after", returnTo)
	assert.True(t, c.IsConnected("Google"))
	assert.Equal(t, []string{"Google"}, c.ConnectedProviders())

	adapter, err := c.Authenticate(ctx, "Google", federation.Params{})
	require.NoError(t, err)
	assert.Equal(t, "Google", adapter.Provider())

	profile, err := adapter.UserProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-for-abc", profile.Identifier)

	// the state is single use
	_, err = c.HandleCallback(ctx, "Google", state, "abc")
	assert.ErrorIs(t, err, federation.ErrInvalidAuthState)
}

func TestClient_InvalidState(t *testing.T) {
	c, _ := newClient(&fakeProvider{name: "Google"})

	_, err := c.HandleCallback(context.Background(), "Google", "nothing-stored", "abc")
	assert.ErrorIs(t, err, federation.ErrInvalidAuthState)

	authenticate(t, c, "Google", federation.Params{})
	_, err = c.HandleCallback(context.Background(), "Google", "forged", "abc")
	assert.ErrorIs(t, err, federation.ErrInvalidAuthState)
	assert.False(t, c.IsConnected("Google"))
}

func TestClient_ExchangeFailure(t *testing.T) {
	c, _ := newClient(&fakeProvider{name: "Google", exchangeErr: errors.New("invalid_grant")})

	state := authenticate(t, c, "Google", federation.Params{})
	_, err := c.HandleCallback(context.Background(), "Google", state, "abc")
	assert.ErrorIs(t, err, federation.ErrExchangeCodeFailed)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.False(t, c.IsConnected("Google"))
}

func TestClient_ProfileFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(&fakeProvider{name: "Google", profileErr: errors.New("revoked")})

	state := authenticate(t, c, "Google", federation.Params{})
	_, err := c.HandleCallback(ctx, "Google", state, "abc")
	require.NoError(t, err)

	adapter, err := c.Adapter("Google")
	require.NoError(t, err)
	_, err = adapter.UserProfile(ctx)
	assert.ErrorIs(t, err, federation.ErrFetchUserInfoFailed)
}

func TestClient_EmptyProfileIdentifier(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(&fakeProvider{name: "Google", profile: &domain.Profile{Email: "a@b.c"}})

	state := authenticate(t, c, "Google", federation.Params{})
	_, err := c.HandleCallback(ctx, "Google", state, "abc")
	require.NoError(t, err)

	adapter, err := c.Adapter("Google")
	require.NoError(t, err)
	_, err = adapter.UserProfile(ctx)
	assert.ErrorIs(t, err, federation.ErrFetchUserInfoFailed)
}

func TestClient_Identifier(t *testing.T) {
	ctx := context.Background()
	fp := &fakeProvider{name: "OpenID", needsID: true}
	c, _ := newClient(fp)

	required, err := c.RequiresIdentifier("OpenID")
	require.NoError(t, err)
	assert.True(t, required)

	_, err = c.Authenticate(ctx, "OpenID", federation.Params{})
	assert.ErrorIs(t, err, federation.ErrIdentifierRequired)

	state := authenticate(t, c, "OpenID", federation.Params{Identifier: "https://issuer.example.com"})
	_, err = c.HandleCallback(ctx, "OpenID", state, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com", fp.lastID)
}

func TestClient_UnknownProvider(t *testing.T) {
	c, _ := newClient()

	_, err := c.Authenticate(context.Background(), "Nope", federation.Params{})
	assert.ErrorIs(t, err, federation.ErrProviderNotFound)

	_, err = c.Adapter("Nope")
	assert.ErrorIs(t, err, federation.ErrProviderNotFound)
}

func TestClient_Disconnect(t *testing.T) {
	ctx := context.Background()
	c, doc := newClient(&fakeProvider{name: "Google"}, &fakeProvider{name: "GitHub"})

	for _, name := range []string{"Google", "GitHub"} {
		state := authenticate(t, c, name, federation.Params{ReturnTo: "/"})
		_, err := c.HandleCallback(ctx, name, state, "code")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"Google", "GitHub"}, c.ConnectedProviders())

	adapter, err := c.Adapter("Google")
	require.NoError(t, err)
	require.NoError(t, adapter.Disconnect())

	assert.Equal(t, []string{"GitHub"}, c.ConnectedProviders())
	_, err = c.Adapter("Google")
	assert.ErrorIs(t, err, federation.ErrNotConnected)

	require.NoError(t, c.DisconnectAll())
	assert.Empty(t, c.ConnectedProviders())
	_, ok := doc.Read(session.DefaultNamespace)
	assert.False(t, ok)
}

func TestClient_DisconnectLeavesSimilarNames(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(&fakeProvider{name: "Google"}, &fakeProvider{name: "MyGoogle"})

	for _, name := range []string{"Google", "MyGoogle"} {
		state := authenticate(t, c, name, federation.Params{ReturnTo: "/"})
		_, err := c.HandleCallback(ctx, name, state, "code")
		require.NoError(t, err)
	}

	adapter, err := c.Adapter("Google")
	require.NoError(t, err)
	require.NoError(t, adapter.Disconnect())
	assert.Equal(t, []string{"MyGoogle"}, c.ConnectedProviders())

	adapter, err = c.Adapter("MyGoogle")
	require.NoError(t, err)
	require.NoError(t, adapter.Disconnect())
	assert.Empty(t, c.ConnectedProviders())
}

func TestClient_StateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	fp := &fakeProvider{name: "Google"}
	engine := federation.NewEngine("https://app/cb", fp)

	doc := session.NewDocument("sess-1")
	state := authenticate(t, engine.Client(session.NewStorage(doc)), "Google", federation.Params{ReturnTo: "/x"})

	raw, err := doc.MarshalJSON()
	require.NoError(t, err)
	reloaded, err := session.LoadDocument("sess-1", raw)
	require.NoError(t, err)

	c := engine.Client(session.NewStorage(reloaded))
	returnTo, err := c.HandleCallback(ctx, "Google", state, "abc")
	require.NoError(t, err)
	assert.Equal(t, "/x", returnTo)
	assert.True(t, c.IsConnected("Google"))
}
