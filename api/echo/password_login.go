package echo

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/auth"
	"go.pilab.hu/sociallink/services"
)

// MsgInvalidCredentials is flashed after a failed password login.
const MsgInvalidCredentials = "Invalid username or password."

// PasswordLogin is a minimal primary sign in for the host application:
// username and bcrypt password checked against the user collection. It
// gives Associate a signed in user to link providers to.
type PasswordLogin struct {
	users         domain.UserRepository
	opts          services.Options
	usernameField string
	hasher        auth.PasswordHasher
}

// NewPasswordLogin creates the handler. usernameField defaults to "username".
func NewPasswordLogin(users domain.UserRepository, opts services.Options, usernameField string) *PasswordLogin {
	if usernameField == "" {
		usernameField = "username"
	}
	return &PasswordLogin{
		users:         users,
		opts:          opts,
		usernameField: usernameField,
		hasher:        auth.NewBcryptPasswordHasher(0),
	}
}

// RegisterRoutes mounts the form and the login action at LoginAction when
// it is a local path.
func (p *PasswordLogin) RegisterRoutes(e *echo.Echo) {
	if !strings.HasPrefix(p.opts.LoginAction, "/") {
		return
	}
	e.GET(p.opts.LoginAction, p.FormHandler)
	e.POST(p.opts.LoginAction, p.LoginHandler)
}

type loginPage struct {
	Flash string            `json:"flash,omitempty"`
	User  domain.UserRecord `json:"user,omitempty"`
}

// FormHandler reports the pending flash message and the signed in user.
func (p *PasswordLogin) FormHandler(c echo.Context) error {
	page := loginPage{Flash: ConsumeFlash(c)}
	if user := CurrentUser(c); user != nil {
		page.User = user
	}
	return c.JSON(http.StatusOK, page)
}

// LoginHandler checks the submitted credentials.
func (p *PasswordLogin) LoginHandler(c echo.Context) error {
	username := strings.TrimSpace(c.FormValue(p.usernameField))
	password := c.FormValue(p.opts.Fields.Password)
	if username == "" || password == "" {
		Flash(c, MsgInvalidCredentials)
		return c.Redirect(http.StatusFound, p.opts.LoginAction)
	}

	user, err := p.users.FindUser(c.Request().Context(), domain.UserQuery{
		Collection: p.opts.UserModel,
		PrimaryKey: p.usernameField,
		ID:         username,
		Scope:      p.opts.Scope,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up user")
		Flash(c, MsgInvalidCredentials)
		return c.Redirect(http.StatusFound, p.opts.LoginAction)
	}

	if user == nil {
		Flash(c, MsgInvalidCredentials)
		return c.Redirect(http.StatusFound, p.opts.LoginAction)
	}
	hash, _ := user[p.opts.Fields.Password].(string)
	if err := p.hasher.Verify(hash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			log.Warn().Err(err).Str("username", username).Msg("Stored password hash is unusable")
		}
		Flash(c, MsgInvalidCredentials)
		return c.Redirect(http.StatusFound, p.opts.LoginAction)
	}

	if err := SetCurrentUser(c, user.Without(p.opts.Fields.Password)); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, p.opts.LoginRedirect)
}
