package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githubOAuth2 "golang.org/x/oauth2/github"

	"go.pilab.hu/sociallink/domain"
)

var (
	GithubUserInfoEndpoint   = "https://api.github.com/user"
	GithubUserEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubProvider signs users in with GitHub.
type GitHubProvider struct {
	*BaseProvider
}

// NewGitHubProvider fills in GitHub's endpoints and scopes.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	if cfg.Name == "" {
		cfg.Name = "GitHub"
	}
	cfg.AuthURL = githubOAuth2.Endpoint.AuthURL
	cfg.TokenURL = githubOAuth2.Endpoint.TokenURL
	cfg.Scopes = withScopes(cfg.Scopes, "read:user", "user:email")

	return &GitHubProvider{BaseProvider: NewBaseProvider(cfg)}
}

// FetchProfile reads the user and, when the public profile has no email,
// the primary verified address.
func (g *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token, _ string) (*domain.Profile, error) {
	client := httpClient(ctx, token)

	claims, err := getJSON(ctx, client, GithubUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}

	name := claimString(claims, "name")
	login := claimString(claims, "login")
	first, last := splitName(name)
	if name == "" {
		name = login
	}

	p := &domain.Profile{
		Identifier:  claimString(claims, "id"),
		DisplayName: name,
		Email:       claimString(claims, "email"),
		FirstName:   first,
		LastName:    last,
		PhotoURL:    claimString(claims, "avatar_url"),
		Raw:         claims,
	}
	if p.Email == "" {
		p.Email = g.primaryEmail(ctx, client)
	}
	return p, nil
}

// primaryEmail is best effort; a failure leaves the email empty.
func (g *GitHubProvider) primaryEmail(ctx context.Context, client *http.Client) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GithubUserEmailsEndpoint, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || json.Unmarshal(body, &emails) != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

var _ Provider = (*GitHubProvider)(nil)
