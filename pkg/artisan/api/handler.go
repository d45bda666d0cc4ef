// Package api exposes the marketplace over HTTP: item and session reads for
// the view layer, authenticated write routes, and a content gateway for
// self-hosted stores.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Deps are the components served by a Handler
type Deps struct {
	Session      *artisan.Session
	Aggregator   *artisan.Aggregator
	Orchestrator *artisan.Orchestrator
	Uploader     *artisan.Uploader
	Resolver     *artisan.Resolver
	Store        artisan.ContentStore
	Repository   artisan.Repository
}

// Handler serves the marketplace HTTP surface
type Handler struct {
	Deps
	auth        *jwtauth.JWTAuth
	logger      *slog.Logger
	waitTimeout time.Duration
	maxUpload   int64
}

// Option configures a Handler
type Option func(*Handler)

// WithJWTSecret requires an HS256 bearer token signed with secret on write routes
func WithJWTSecret(secret string) Option {
	return func(h *Handler) {
		if secret != "" {
			h.auth = jwtauth.New("HS256", []byte(secret), nil)
		}
	}
}

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithWaitTimeout bounds how long a write waits for its confirmation before
// answering 202 with the pending hash
func WithWaitTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.waitTimeout = d
	}
}

// WithMaxUpload limits the size of uploaded blobs
func WithMaxUpload(n int64) Option {
	return func(h *Handler) {
		h.maxUpload = n
	}
}

// NewHandler creates a Handler over deps
func NewHandler(deps Deps, opts ...Option) (*Handler, error) {
	if deps.Session == nil || deps.Aggregator == nil || deps.Orchestrator == nil {
		return nil, errors.New("session, aggregator and orchestrator are required")
	}
	if deps.Uploader == nil || deps.Store == nil {
		return nil, errors.New("uploader and content store are required")
	}
	h := &Handler{
		Deps:        deps,
		logger:      slog.Default(),
		waitTimeout: 2 * time.Minute,
		maxUpload:   32 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the /api/v1 routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/session", h.GetSession)
	r.Get("/items", h.ListItems)
	r.Get("/items/{id}", h.GetItem)
	r.Get("/items/{id}/provenance", h.GetProvenance)
	r.Get("/items/{id}/activity", h.GetItemActivity)
	r.Get("/creators", h.ListCreators)
	r.Get("/activity", h.GetActorActivity)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(jwtauth.Verifier(h.auth))
			r.Use(jwtauth.Authenticator)
		}
		r.Post("/session/connect", h.Connect)
		r.Post("/session/disconnect", h.Disconnect)
		r.Post("/content", h.UploadContent)
		r.Post("/metadata", h.UploadMetadata)

		r.Group(func(r chi.Router) {
			if h.auth != nil {
				r.Use(h.requireSubject)
			}
			r.Post("/items", h.Mint)
			r.Put("/items/{id}/listing", h.List)
			r.Delete("/items/{id}/listing", h.Delist)
			r.Post("/items/{id}/purchase", h.Purchase)
			r.Post("/creators", h.RegisterCreator)
		})
	})

	return r
}

// Router returns a router serving the API under /api/v1 and the content
// gateway under /ipfs
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Mount("/api/v1", h.Routes())
	r.Get("/ipfs/{cid}", h.ServeContent)
	r.Head("/ipfs/{cid}", h.ServeContent)
	return r
}

func itemID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
