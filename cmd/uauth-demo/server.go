package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uauth/uauth-go/auth/oauth"
	"github.com/uauth/uauth-go/auth/resource"
	"github.com/uauth/uauth-go/credstore"
	"github.com/uauth/uauth-go/discovery"
	"github.com/uauth/uauth-go/pkg/robusthttp"
	"github.com/uauth/uauth-go/util/cliutil"

	"github.com/flosch/pongo2/v6"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
)

const (
	sessionName          = "uauth-demo"
	defaultSweepInterval = 10 * time.Minute
)

type WebServer struct {
	echo      *echo.Echo
	httpd     *http.Server
	app       *oauth.ClientApp
	login     *oauth.SessionLogin
	validator *resource.Validator
	logger    *slog.Logger
}

type ServerConfig struct {
	Bind          string
	Debug         bool
	SessionSecret string
	Client        *oauth.ClientConfig
	Store         *credstore.Store
	Domains       discovery.DomainResolver
}

func runServe(cctx *cli.Context) error {
	logger, err := cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
	if err != nil {
		return err
	}

	client := oauth.NewClientConfig(cctx.String("client-id"), cctx.String("redirect-uri"))
	client.Scope = cctx.String("scope")
	client.ResponseMode = oauth.ResponseModeFormPost
	client.CacheIssuer = true
	if iss := cctx.String("fallback-issuer"); iss != "" {
		client.FallbackIssuer = iss
	}
	if err := client.SetClientSecret(cctx.String("client-secret"), cctx.String("client-auth-method")); err != nil {
		return err
	}
	if err := client.Validate(); err != nil {
		return err
	}

	store, closeStore, err := cliutil.OpenCredentialStore(cctx.String("store"))
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer closeStore()

	var domains discovery.DomainResolver
	if host := cctx.String("resolver-host"); host != "" {
		r := discovery.NewAPIDomainResolver(host, cctx.String("resolver-api-key"))
		r.Client = robusthttp.NewClient(robusthttp.WithLogger(logger))
		domains = r
	}

	srv, err := NewWebServer(ServerConfig{
		Bind:          cctx.String("bind"),
		Debug:         cctx.Bool("debug"),
		SessionSecret: cctx.String("session-secret"),
		Client:        &client,
		Store:         store,
		Domains:       domains,
	})
	if err != nil {
		return err
	}
	srv.logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.runSweeper(ctx, cctx.Duration("sweep-interval"))

	// Start the server
	logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		logger.Info("received OS exit signal", "signal", sig)

		// Shut down the HTTP server
		if err := srv.Shutdown(); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	logger.Info("graceful shutdown complete")
	return nil
}

func NewWebServer(config ServerConfig) (*WebServer, error) {
	if config.SessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	app := oauth.NewClientApp(config.Client, config.Store, config.Domains)

	// form_post callbacks are cross-site POSTs, so the session cookie must be SameSite=None
	cookies := sessions.NewCookieStore([]byte(config.SessionSecret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}

	srv := &WebServer{
		echo:      e,
		app:       app,
		login:     oauth.NewSessionLogin(app, oauth.NewCookieInteractionStore(cookies, sessionName)),
		validator: resource.NewValidator(config.Domains),
		logger:    slog.Default(),
	}
	srv.validator.FallbackIssuer = config.Client.FallbackIssuer
	srv.login.Unauthorized = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Redirect(w, r, "/", http.StatusFound)
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(slog.Default()))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("uauth_demo"))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Renderer = NewRenderer("templates/", &TemplateFS, config.Debug)
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	// redirect trailing slash to non-trailing slash.
	// all of our current endpoints have no trailing slash.
	e.Use(middleware.RemoveTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusFound,
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	e.GET("/", srv.WebHome)
	e.POST("/login", srv.WebLogin)
	e.GET("/callback", srv.WebCallback)
	e.POST("/callback", srv.WebCallback)
	e.POST("/logout", srv.WebLogout)
	e.GET("/profile", srv.WebProfile, echo.WrapMiddleware(srv.login.Middleware("openid")))

	api := e.Group("/api", echo.WrapMiddleware(srv.validator.Middleware))
	api.GET("/whoami", srv.APIWhoami)

	return srv, nil
}

// runSweeper periodically drops expired entries from the credential store, for backends which never expire keys themselves.
func (srv *WebServer) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := srv.app.Store.Sweep(ctx)
			if err != nil {
				srv.logger.Warn("credential store sweep failed", "err", err)
				continue
			}
			if n > 0 {
				srv.logger.Info("swept expired credential store entries", "count", n)
			}
		}
	}
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *WebServer) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("uauth-demo-http-internal-error", "err", err)
	}
	data := pongo2.Context{
		"statusCode":   code,
		"errorMessage": errorMessage,
	}
	if !c.Response().Committed {
		c.Render(code, "error.html", data)
	}
}

func (srv *WebServer) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *WebServer) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

func (srv *WebServer) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "uauth-demo"})
}
