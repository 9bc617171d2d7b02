package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "go.pilab.hu/sociallink/api/echo"
	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/log"
	"go.pilab.hu/sociallink/services"
	"go.pilab.hu/sociallink/session"
)

// Dependencies are the components the HTTP server routes to.
type Dependencies struct {
	Service  *services.SocialLoginService
	Engine   *federation.Engine
	Users    domain.UserRepository
	Sessions session.Store
	Gatherer prometheus.Gatherer
}

// NewEcho builds the router: recovery, tracing, request logging and the
// session middleware, then the social login, password login, metrics and
// health routes.
func NewEcho(cfg *config.Config, appLogger log.Logger, deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(echoapi.TracingMiddleware())
	e.Use(echoapi.RequestLogger(appLogger))
	e.Use(echoapi.SecurityHeaders(cfg.Session.CookieSecure))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Sessions are only written back when a handler touched them.
	e.Use(echoapi.SessionMiddleware(deps.Sessions, echoapi.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.TTL,
	}))

	echoapi.NewSocialLoginAPI(deps.Service, deps.Engine).RegisterRoutes(e)
	echoapi.NewPasswordLogin(deps.Users, deps.Service.Options(), "").RegisterRoutes(e)

	appLogger.Info(context.Background(), "HTTP routes registered", log.Fields{
		"providers": deps.Engine.Providers(),
	})
	return e
}

// NewHTTPServer wraps the router in an http.Server.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
