package http

import (
	"context"
	"net/http"
	"time"

	"intralink/internal/domain"
	"intralink/internal/jwtsigner"
	"intralink/internal/observability/middleware"
	"intralink/internal/presence"
	"intralink/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

type Options struct {
	TrustProxy      bool
	CORSOrigins     []string
	CookieSecure    bool
	CookiePath      string
	LoginRateLimit  int
	LoginRateWindow time.Duration
	RequestTimeout  time.Duration
	WSSendBuffer    int
}

type Deps struct {
	Auth     service.AuthService
	Tokens   service.TokenService
	Presence *presence.Registry
	Signer   *jwtsigner.Signer
	Metrics  http.Handler
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

type handler struct {
	Deps
	opts Options
}

func NewRouter(d Deps, opts Options) http.Handler {
	if opts.CookiePath == "" {
		opts.CookiePath = "/api/auth"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.LoginRateLimit <= 0 {
		opts.LoginRateLimit = 10
	}
	if opts.LoginRateWindow <= 0 {
		opts.LoginRateWindow = time.Minute
	}
	h := &handler{Deps: d, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.WithRequestAndTrace)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAny(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	// The live connection outlives any request timeout.
	r.Get("/ws", h.serveWS)

	authn := Authenticate(d.Tokens)
	limitLogin := httprate.LimitByIP(opts.LoginRateLimit, opts.LoginRateWindow)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(opts.RequestTimeout))

		r.Route("/auth", func(r chi.Router) {
			r.With(limitLogin, OptionalAuthenticate(d.Tokens)).Post("/register", h.register)
			r.With(limitLogin).Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Get("/jwks", h.jwks)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/logout", h.logout)
				r.Post("/logout-all", h.logoutAll)
				r.Get("/me", h.me)
				r.Get("/sessions", h.listSessions)
				r.Delete("/sessions/{id}", h.revokeSession)
			})
		})

		r.Route("/presence", func(r chi.Router) {
			r.Use(authn)
			r.Get("/online", h.onlineUsers)
			r.With(RequireRole(domain.RoleAdmin, domain.RoleHR)).Post("/announce", h.announce)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn)
			r.With(RequireRole(domain.RoleAdmin)).Post("/users", h.adminCreateUser)
			r.With(RequireRole(domain.RoleAdmin)).Get("/users/{id}/sessions", h.adminListSessions)
			r.With(RequireRole(domain.RoleAdmin, domain.RoleHR)).Post("/users/{id}/logout-all", h.adminLogoutAll)
			r.With(RequireRole(domain.RoleAdmin)).Post("/sessions/sweep", h.sweep)
		})
	})
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not ready"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// originsOrAny treats an empty list as "allow all", matching local dev.
func originsOrAny(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
