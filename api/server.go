// Package api is the storefront's JSON HTTP surface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jeffsasaki/pledge-storefront/identity"
	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/orderview"
	"github.com/jeffsasaki/pledge-storefront/stats"
	"github.com/jeffsasaki/pledge-storefront/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pledger interface {
	SubmitPledge(ctx context.Context, user *model.UserProfile, campaign *model.Campaign,
		reward model.Reward, contact model.ContactInfo, consent model.Consent) (model.Order, error)
}

type Orders interface {
	QueryOnce(ctx context.Context, f store.Filter) ([]model.Order, error)
	Subscribe(f store.Filter, onChange func([]model.Order)) store.Unsubscribe
	Mode() store.BackendMode
}

// Server holds all API handler state.
type Server struct {
	Campaign *model.Campaign
	Pledges  Pledger
	Orders   Orders
	Stats    *stats.Aggregator
	Console  *orderview.Console
	Sessions *identity.Sessions
	Provider identity.Provider
	Admins   identity.AdminPolicy
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Now      func() time.Time
	// Done, when closed, ends every open order stream. http.Server.Shutdown
	// waits for active requests and never cancels them.
	Done <-chan struct{}
}

// Handler builds the router with the common middleware stack.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)
	s.Routes(r)
	return r
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.health)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/campaign", s.getCampaign)
		r.Get("/stats", s.getStats)
		r.Post("/auth/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/logout", s.logout)
			r.Get("/me", s.me)
			r.Post("/pledges", s.submitPledge)
			r.Get("/orders", s.listOrders)
			r.Get("/orders/stream", s.streamOrders)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/admin/board", s.adminBoard)
				r.Patch("/orders/{id}/status", s.changeStatus)
			})
		})
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

type ctxKey int

const (
	userKey ctxKey = iota
	tokenKey
)

// authenticate accepts "Authorization: Bearer <token>", or an access_token
// query parameter for clients such as EventSource that cannot set headers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			token = strings.TrimPrefix(auth, "Bearer ")
			if token == auth {
				writeError(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
				return
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "sign in required")
			return
		}

		user, err := s.Sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Admins.IsAdmin(userFrom(r)) {
			writeError(w, http.StatusForbidden, "administrator only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) *model.UserProfile {
	u, _ := r.Context().Value(userKey).(*model.UserProfile)
	return u
}

func tokenFrom(r *http.Request) string {
	t, _ := r.Context().Value(tokenKey).(string)
	return t
}
