package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
)

// RouteRegistrar registers one group's routes.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second

	groupOrders   = "orders"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// Groups mount in this order under the API prefix.
var routeGroups = []string{groupOrders, groupWebhooks, groupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []middlewareFunc
	health      *HealthHandlers
	metrics     http.Handler
	groups      map[string]*routeGroup
}

func (cfg *routerConfig) group(name string) *routeGroup {
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{}
		cfg.groups[name] = g
	}
	return g
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the chi router: probes and /metrics at the root, then the orders, webhooks and
// internal groups under /api/v1. A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		timeout: defaultRequestTimeout,
		groups:  make(map[string]*routeGroup, len(routeGroups)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range routeGroups {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithRequestTimeout bounds every request; zero keeps the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMiddlewares runs mw on every route after the built-in middleware.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupOrders, reg)
}

// WithOrderMiddlewares guards /orders, normally with staff authentication.
func WithOrderMiddlewares(mw ...middlewareFunc) Option {
	return withGroupMiddlewares(groupOrders, mw)
}

func WithWebhookRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupWebhooks, reg)
}

func WithWebhookMiddlewares(mw ...middlewareFunc) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupInternal, reg)
}

// WithInternalMiddlewares guards /internal, normally with push token verification.
func WithInternalMiddlewares(mw ...middlewareFunc) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func withGroupMiddlewares(name string, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not enabled", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
