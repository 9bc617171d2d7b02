//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/internal/metrics"
	"go.pilab.hu/sociallink/services"
	"go.pilab.hu/sociallink/session"
)

// RoutePrefix is where the social login routes are mounted.
const RoutePrefix = "/social_login"

// Flash messages shown to the user.
const (
	MsgLoginFailed       = "Could not sign you in with that provider."
	MsgNoLinkedAccount   = "No account is linked to that provider identity yet."
	MsgLoginRequired     = "Please sign in first."
	MsgAssociated        = "Your account is now linked."
	MsgAlreadyLinked     = "That provider identity is already linked to an account."
	MsgAssociationFailed = "Could not link your account."
	MsgUnlinked          = "The provider has been unlinked."
	MsgNotLinked         = "That provider is not linked to your account."
	MsgUnlinkFailed      = "Could not unlink the provider."
)

// SocialLoginAPI serves the social login routes.
type SocialLoginAPI struct {
	service *services.SocialLoginService
	engine  *federation.Engine
	opts    services.Options
}

// NewSocialLoginAPI initializes the API.
func NewSocialLoginAPI(service *services.SocialLoginService, engine *federation.Engine) *SocialLoginAPI {
	return &SocialLoginAPI{
		service: service,
		engine:  engine,
		opts:    service.Options(),
	}
}

// RegisterRoutes registers the social login routes on e. The session
// middleware must already be installed.
func (a *SocialLoginAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group(RoutePrefix)
	g.POST("/login", a.LoginHandler)
	g.GET("/endpoint/:provider", a.EndpointHandler)
	g.GET("/authenticated", a.AuthenticatedHandler)
	g.POST("/associate", a.AssociateHandler)
	g.GET("/association", a.AssociationHandler)
	g.POST("/unlink", a.UnlinkHandler)
	g.POST("/logout", a.LogoutHandler)
	g.GET("/accounts", a.AccountsHandler)
	g.GET("/providers", a.ProvidersHandler)
}

func (a *SocialLoginAPI) client(c echo.Context) *federation.Client {
	return a.engine.Client(session.NewStorage(SessionFrom(c)))
}

func (a *SocialLoginAPI) loginRequest(c echo.Context, returnPath string) services.LoginRequest {
	return services.LoginRequest{
		Provider:   c.FormValue(a.opts.Fields.Provider),
		Identifier: c.FormValue(a.opts.Fields.OpenIDIdentifier),
		ReturnTo:   RoutePrefix + returnPath,
	}
}

// LoginHandler starts a login with the provider selected in the form.
func (a *SocialLoginAPI) LoginHandler(c echo.Context) error {
	return a.login(c, a.loginRequest(c, "/authenticated"))
}

// AuthenticatedHandler finishes a login after the provider callback.
func (a *SocialLoginAPI) AuthenticatedHandler(c echo.Context) error {
	return a.login(c, services.LoginRequest{})
}

func (a *SocialLoginAPI) login(c echo.Context, req services.LoginRequest) error {
	ctx := c.Request().Context()

	user, err := a.service.Login(ctx, a.client(c), req)
	if redirect, ok := federation.AsRedirect(err); ok {
		return c.Redirect(http.StatusFound, redirect.URL)
	}
	if err != nil {
		log.Warn().Err(err).Str("provider", req.Provider).Msg("Social login failed")
		Flash(c, MsgLoginFailed)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}
	if user == nil {
		Flash(c, MsgNoLinkedAccount)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	if err := SetCurrentUser(c, user); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, a.opts.LoginRedirect)
}

// EndpointHandler is the provider callback. It hands the state and code to
// the identity engine and returns the browser to where the flow started.
func (a *SocialLoginAPI) EndpointHandler(c echo.Context) error {
	provider, err := url.PathUnescape(c.Param("provider"))
	if err != nil {
		provider = c.Param("provider")
	}

	if errCode := c.QueryParam("error"); errCode != "" {
		log.Warn().Str("provider", provider).Str("error", errCode).
			Str("description", c.QueryParam("error_description")).
			Msg("Provider returned an error")
		metrics.CallbackTotal.WithLabelValues(provider, metrics.OutcomeDeclined).Inc()
		Flash(c, MsgLoginFailed)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	returnTo, err := a.client(c).HandleCallback(c.Request().Context(), provider, c.QueryParam("state"), c.QueryParam("code"))
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, federation.ErrInvalidAuthState) || errors.Is(err, federation.ErrProviderNotFound) {
			outcome = metrics.OutcomeDeclined
		}
		metrics.CallbackTotal.WithLabelValues(provider, outcome).Inc()
		log.Warn().Err(err).Str("provider", provider).Msg("Provider callback failed")
		Flash(c, MsgLoginFailed)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	metrics.CallbackTotal.WithLabelValues(provider, metrics.OutcomeSuccess).Inc()
	if returnTo == "" {
		returnTo = a.opts.LoginRedirect
	}
	return c.Redirect(http.StatusFound, returnTo)
}

// AssociateHandler starts linking a provider to the signed in user.
func (a *SocialLoginAPI) AssociateHandler(c echo.Context) error {
	if CurrentUser(c) == nil {
		Flash(c, MsgLoginRequired)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	err := a.service.BeginAssociation(c.Request().Context(), a.client(c), a.loginRequest(c, "/association"))
	if redirect, ok := federation.AsRedirect(err); ok {
		return c.Redirect(http.StatusFound, redirect.URL)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start association")
		Flash(c, MsgAssociationFailed)
		return c.Redirect(http.StatusFound, a.opts.AssociatedRedirect)
	}
	// the provider was connected already
	return a.AssociationHandler(c)
}

// AssociationHandler links the connected provider to the signed in user.
func (a *SocialLoginAPI) AssociationHandler(c echo.Context) error {
	user := CurrentUser(c)
	if user == nil {
		Flash(c, MsgLoginRequired)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	_, err := a.service.Associate(c.Request().Context(), a.client(c), user)
	switch {
	case err == nil:
		Flash(c, MsgAssociated)
	case errors.Is(err, domain.ErrAlreadyLinked):
		Flash(c, MsgAlreadyLinked)
	default:
		log.Error().Err(err).Str("user_id", user.ID(a.opts.PrimaryKey)).Msg("Association failed")
		Flash(c, MsgAssociationFailed)
	}
	return c.Redirect(http.StatusFound, a.opts.AssociatedRedirect)
}

// UnlinkHandler removes the link to the provider named in the form.
func (a *SocialLoginAPI) UnlinkHandler(c echo.Context) error {
	user := CurrentUser(c)
	if user == nil {
		Flash(c, MsgLoginRequired)
		return c.Redirect(http.StatusFound, a.opts.LoginAction)
	}

	err := a.service.Unlink(c.Request().Context(), user, c.FormValue(a.opts.Fields.Provider))
	switch {
	case err == nil:
		Flash(c, MsgUnlinked)
	case errors.Is(err, domain.ErrNotLinked), errors.Is(err, domain.ErrValidation):
		Flash(c, MsgNotLinked)
	default:
		log.Error().Err(err).Str("user_id", user.ID(a.opts.PrimaryKey)).Msg("Unlink failed")
		Flash(c, MsgUnlinkFailed)
	}
	return c.Redirect(http.StatusFound, a.opts.AssociatedRedirect)
}

// LogoutHandler disconnects every provider and signs the user out.
func (a *SocialLoginAPI) LogoutHandler(c echo.Context) error {
	if err := a.service.Logout(c.Request().Context(), a.client(c)); err != nil {
		log.Warn().Err(err).Msg("Failed to disconnect providers")
	}
	if err := ClearCurrentUser(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, a.opts.LoginAction)
}

type accountResponse struct {
	ID               int64           `json:"id"`
	Provider         string          `json:"provider"`
	ProviderUID      string          `json:"provider_uid"`
	ProviderUsername string          `json:"provider_username,omitempty"`
	Profile          *domain.Profile `json:"user_profile,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AccountsHandler lists the signed in user's links.
func (a *SocialLoginAPI) AccountsHandler(c echo.Context) error {
	user := CurrentUser(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "login required"})
	}

	accounts, err := a.service.LinkedAccounts(c.Request().Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list linked accounts")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list linked accounts"})
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, accountResponse{
			ID:               acc.ID(),
			Provider:         acc.Provider(),
			ProviderUID:      acc.ProviderUID(),
			ProviderUsername: acc.ProviderUsername(),
			Profile:          acc.Profile(),
			CreatedAt:        acc.CreatedAt(),
			UpdatedAt:        acc.UpdatedAt(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

type providerResponse struct {
	Name               string `json:"name"`
	RequiresIdentifier bool   `json:"requires_identifier"`
	Connected          bool   `json:"connected"`
}

// ProvidersHandler lists the configured providers and whether the session
// is connected to them.
func (a *SocialLoginAPI) ProvidersHandler(c echo.Context) error {
	client := a.client(c)

	out := make([]providerResponse, 0)
	for _, name := range a.engine.Providers() {
		required, _ := client.RequiresIdentifier(name)
		out = append(out, providerResponse{
			Name:               name,
			RequiresIdentifier: required,
			Connected:          client.IsConnected(name),
		})
	}
	return c.JSON(http.StatusOK, out)
}
