// Package rpc exposes the protocol's operations over HTTP, the concrete
// realization of spec.md §6's "Protocol RPC (exposed)" surface, grounded on
// the teacher's rpc/http.go server shape and rpc/modules' handler-per-route
// layout.
package rpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbvault/vault"
)

// Config configures a Server.
type Config struct {
	JWTSecret     []byte
	JWTIssuer     string
	RateLimitRPS  float64
	RateLimitBurst int
}

// Server is the chi-routed HTTP API in front of an Engine.
type Server struct {
	engine  *vault.Engine
	jwt     *jwtVerifier
	limiter *principalLimiter
	router  chi.Router
}

// NewServer builds a Server and wires its routes.
func NewServer(engine *vault.Engine, cfg Config) (*Server, error) {
	verifier, err := newJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	s := &Server{
		engine:  engine,
		jwt:     verifier,
		limiter: newPrincipalLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the otelhttp-traced root handler, ready to pass to
// http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "vaultd")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/fees", s.handleFees)
	r.Get("/v1/vaults", s.handleListVaults)
	r.Get("/v1/events", s.handleEvents)

	r.Group(func(mutating chi.Router) {
		mutating.Use(s.requireAuth, s.limiter.middleware)
		mutating.Post("/v1/vaults", s.handleOpenVault)
		mutating.Post("/v1/vaults/{id}/borrow", s.handleBorrow)
		mutating.Post("/v1/vaults/{id}/repay", s.handleRepay)
		mutating.Post("/v1/vaults/{id}/margin", s.handleAddMargin)
		mutating.Delete("/v1/vaults/{id}", s.handleCloseVault)
		mutating.Post("/v1/redeem", s.handleRedeem)
		mutating.Post("/v1/admin/mode", s.handleSetMode)
	})

	return r
}
