package echo

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/session"
)

const (
	sessionContextKey      = "sociallink.session"
	sessionStoreContextKey = "sociallink.session_store"

	// AuthUserKey is where the current user lives in the session.
	AuthUserKey = "Auth.User"
	// FlashMessageKey holds the next user facing message.
	FlashMessageKey = "Flash.message"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// SessionMiddleware loads the session named by the cookie from store, or
// starts a new one, and saves it after the handler when it changed.
func SessionMiddleware(store session.Store, cookie CookieConfig) echo.MiddlewareFunc {
	if cookie.Path == "" {
		cookie.Path = "/"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			doc, err := loadSession(c, store, cookie.Name)
			if err != nil {
				return err
			}
			c.Set(sessionContextKey, doc)
			c.Set(sessionStoreContextKey, store)

			// The handler may swap the document through renewSession, so
			// both hooks look it up again.
			c.Response().Before(func() {
				if doc := SessionFrom(c); doc.Dirty() {
					c.SetCookie(&http.Cookie{
						Name:     cookie.Name,
						Value:    doc.ID(),
						Path:     cookie.Path,
						MaxAge:   int(cookie.MaxAge.Seconds()),
						Secure:   cookie.Secure,
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
					})
				}
			})

			handlerErr := next(c)

			if doc := SessionFrom(c); doc.Dirty() {
				if err := store.Save(ctx, doc); err != nil {
					log.Error().Err(err).Str("session_id", doc.ID()).Msg("Failed to save session")
					if handlerErr == nil {
						handlerErr = err
					}
				}
			}
			return handlerErr
		}
	}
}

func loadSession(c echo.Context, store session.Store, cookieName string) (*session.Document, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return session.NewDocument(uuid.NewString()), nil
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return session.NewDocument(uuid.NewString()), nil
	}

	doc, err := store.Load(c.Request().Context(), cookie.Value)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return session.NewDocument(uuid.NewString()), nil
	case err != nil:
		log.Warn().Err(err).Msg("Failed to load session, starting a new one")
		return session.NewDocument(uuid.NewString()), nil
	}
	return doc, nil
}

// SessionFrom returns the request's session. It panics when
// SessionMiddleware is not installed.
func SessionFrom(c echo.Context) *session.Document {
	return c.Get(sessionContextKey).(*session.Document)
}

// CurrentUser returns the user the host application signed in, if any.
func CurrentUser(c echo.Context) domain.UserRecord {
	v, ok := SessionFrom(c).Read(AuthUserKey)
	if !ok {
		return nil
	}
	switch u := v.(type) {
	case map[string]any:
		return domain.UserRecord(u)
	case domain.UserRecord:
		return u
	}
	return nil
}

// renewSession moves the request to a fresh session id carrying the same
// contents and destroys the old id in the store.
func renewSession(c echo.Context) *session.Document {
	old := SessionFrom(c)
	doc := old.Renew(uuid.NewString())
	c.Set(sessionContextKey, doc)

	if store, ok := c.Get(sessionStoreContextKey).(session.Store); ok {
		if err := store.Destroy(c.Request().Context(), old.ID()); err != nil {
			log.Warn().Err(err).Str("session_id", old.ID()).Msg("Failed to destroy previous session")
		}
	}
	return doc
}

// SetCurrentUser signs user in for the session under a new session id. The
// record is stored in its JSON form so every session store holds the same
// shape.
func SetCurrentUser(c echo.Context, user domain.UserRecord) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return err
	}
	return renewSession(c).Write(AuthUserKey, normalized)
}

// ClearCurrentUser signs the session out of the host application and
// moves it to a new session id.
func ClearCurrentUser(c echo.Context) error {
	return renewSession(c).Delete(AuthUserKey)
}

// Flash records a message for the next page.
func Flash(c echo.Context, msg string) {
	if err := SessionFrom(c).Write(FlashMessageKey, msg); err != nil {
		log.Warn().Err(err).Msg("Failed to write flash message")
	}
}

// ConsumeFlash returns and removes the pending flash message.
func ConsumeFlash(c echo.Context) string {
	doc := SessionFrom(c)
	v, ok := doc.Read(FlashMessageKey)
	if !ok {
		return ""
	}
	_ = doc.Delete(FlashMessageKey)
	msg, _ := v.(string)
	return msg
}
