// Package server is the composition root: it builds the stores, services
// and handlers from config, mounts the routes and runs the HTTP server
// until SIGINT or SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/authstate"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/config"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/handler"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/middleware"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/notify"
	sqliteRepo "github.com/stazh-ux/lavendel-ask-resolve/internal/repository/sqlite"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage/b2store"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage/boltstore"
	"github.com/stazh-ux/lavendel-ask-resolve/web"
)

// Server owns every long-lived resource; Close releases them in reverse
// order of creation.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	auth    *service.AuthService
	closers []func() error

	notifications *handler.NotificationHandler
}

// New wires the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg, logger := s.config, s.logger

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	var err error
	s.db, err = sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	s.closers = append(s.closers, s.db.Close)

	blobs, serveFiles, err := s.openBlobStore(ctx)
	if err != nil {
		return err
	}

	denylist, err := s.openDenylist(ctx)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	broker := authstate.NewBroker(logger)
	s.auth = service.NewAuthService(s.db, tokens, auth.NewPasswordService(0), denylist, broker, logger)
	s.auth.SetAdminEmails(cfg.Admin.BootstrapEmails)

	notifications := service.NewNotificationService(s.db, s.db, logger)
	problems := service.NewProblemService(s.db, blobs, s.auth, notifications, logger)
	ratings := service.NewRatingService(s.db, logger)
	poller := notify.NewPoller(notifications, cfg.Notifications.PollInterval, logger)

	var github *auth.GitHubProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	} else {
		logger.Info("GitHub sign-in disabled: GITHUB_CLIENT_ID or GITHUB_CLIENT_SECRET not set")
	}

	pages, err := handler.NewPageHandler(web.FS, s.auth, problems, ratings, notifications, handler.PageOptions{
		GitHubEnabled: github != nil,
		PollInterval:  cfg.Notifications.PollInterval,
	}, logger)
	if err != nil {
		return err
	}

	s.notifications = handler.NewNotificationHandler(notifications, poller, broker, logger)
	s.setupRoutes(routes{
		auth:          handler.NewAuthHandler(s.auth, github, logger),
		problems:      handler.NewProblemHandler(problems, logger),
		ratings:       handler.NewRatingHandler(ratings, logger),
		notifications: s.notifications,
		pages:         pages,
		files:         handler.NewFilesHandler(blobs, logger),
		serveFiles:    serveFiles,
		github:        github != nil,
	})
	return nil
}

// openBlobStore reports whether the portal must serve blobs itself.
func (s *Server) openBlobStore(ctx context.Context) (storage.BlobStore, bool, error) {
	sc := s.config.Storage
	switch sc.Backend {
	case "b2":
		store, err := b2store.Open(ctx, sc.B2.AccountID, sc.B2.AppKey, sc.B2.Bucket)
		if err != nil {
			return nil, false, fmt.Errorf("opening B2 storage: %w", err)
		}
		s.logger.Info("attachments stored in B2", slog.String("bucket", sc.B2.Bucket))
		return store, false, nil
	default:
		store, err := boltstore.Open(sc.BoltPath, storage.AttachmentsBucket, s.config.Server.BaseURL)
		if err != nil {
			return nil, false, fmt.Errorf("opening blob store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return store, true, nil
	}
}

// openDenylist uses Redis when configured so revocations survive restarts
// and are shared between instances.
func (s *Server) openDenylist(ctx context.Context) (auth.Denylist, error) {
	rc := s.config.Redis
	if rc.Addr == "" {
		return auth.NewMemoryDenylist(), nil
	}

	var opts *redis.Options
	if strings.HasPrefix(rc.Addr, "redis://") || strings.HasPrefix(rc.Addr, "rediss://") {
		parsed, err := redis.ParseURL(rc.Addr)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}
	}

	client := redis.NewClient(opts)
	s.closers = append(s.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s.logger.Info("token revocations stored in redis", slog.String("addr", opts.Addr))
	return auth.NewRedisDenylist(client), nil
}

type routes struct {
	auth          *handler.AuthHandler
	problems      *handler.ProblemHandler
	ratings       *handler.RatingHandler
	notifications *handler.NotificationHandler
	pages         *handler.PageHandler
	files         *handler.FilesHandler
	serveFiles    bool
	github        bool
}

// setupRoutes mounts everything.
//
// GET  /                               landing page
// GET  /auth                           sign-in / sign-up page
// POST /auth/{signin,signup,signout}   page forms
// GET  /auth/github/{login,callback}   GitHub OAuth (when configured)
// GET  /dashboard?tab=                 dashboard
// POST /dashboard/...                  dashboard forms
// GET  /files/*                        attachments (bolt backend)
// GET  /static/*                       css, js
// GET  /healthz                        liveness + database ping
// /api/...                             JSON API, see below
func (s *Server) setupRoutes(h routes) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	static, err := fs.Sub(web.FS, "static")
	if err != nil {
		// the embed pattern guarantees the directory
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	if h.serveFiles {
		r.Get("/files/*", h.files.HandleGet)
	}
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(s.auth))

		r.Get("/", h.pages.HandleLanding)
		r.Get("/auth", h.pages.HandleAuthPage)
		r.Post("/auth/signin", h.pages.HandleSignInForm)
		r.Post("/auth/signup", h.pages.HandleSignUpForm)
		r.Post("/auth/signout", h.pages.HandleSignOutForm)

		r.Get("/dashboard", h.pages.HandleDashboard)
		r.Post("/dashboard/problems", h.pages.HandleSubmitProblem)
		r.Post("/dashboard/problems/{id}/respond", h.pages.HandleRespond)
		r.Post("/dashboard/ratings", h.pages.HandleRate)
		r.Post("/dashboard/notifications/read-all", h.pages.HandleMarkAllRead)
		r.Post("/dashboard/notifications/{id}/read", h.pages.HandleMarkRead)
	})

	if h.github {
		r.Get("/auth/github/login", h.auth.HandleGitHubLogin)
		r.Get("/auth/github/callback", h.auth.HandleGitHubCallback)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", h.auth.HandleSignUp)
		r.Post("/auth/signin", h.auth.HandleSignIn)
		r.Post("/auth/signout", h.auth.HandleSignOut)
		r.Post("/auth/refresh", h.auth.HandleRefresh)
		r.Get("/auth/session", h.auth.HandleSession)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.auth))

			r.Get("/me", h.auth.HandleMe)

			r.Get("/problems", h.problems.HandleList)
			r.Post("/problems", h.problems.HandleCreate)
			r.Get("/problems/{id}", h.problems.HandleGet)
			r.Post("/problems/{id}/attachments", h.problems.HandleUpload)

			r.Get("/ratings/me", h.ratings.HandleMine)
			r.Put("/ratings/me", h.ratings.HandleSubmit)

			r.Get("/notifications", h.notifications.HandleUnread)
			r.Get("/notifications/stream", h.notifications.HandleStream)
			r.Post("/notifications/read-all", h.notifications.HandleMarkAllRead)
			r.Post("/notifications/{id}/read", h.notifications.HandleMarkRead)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin(s.auth))

				r.Patch("/problems/{id}", h.problems.HandleUpdate)
				r.Get("/ratings", h.ratings.HandleList)
				r.Get("/ratings/stats", h.ratings.HandleStats)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database, blob store and redis client.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until a shutdown signal arrives, then drains in-flight
// requests for up to 30 seconds and closes every resource.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Path),
			slog.String("storage", s.config.Storage.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// event streams never finish on their own
		srv.RegisterOnShutdown(s.notifications.CloseStreams)
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
