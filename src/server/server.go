package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/hendrywilliam/herald/src/gateway"
	"github.com/hendrywilliam/herald/src/rest"
)

type GatewayStatus interface {
	Snapshot() gateway.Snapshot
}

type RateLimitStatus interface {
	RateLimit() rest.RateLimit
}

type StatusResponse struct {
	Gateway   gateway.Snapshot `json:"gateway"`
	RateLimit rest.RateLimit   `json:"rate_limit"`
}

// Server exposes the gateway session and REST rate limit state over HTTP.
type Server struct {
	router  *fiber.App
	gateway GatewayStatus
	rest    RateLimitStatus
	token   string
	log     *slog.Logger
}

// NewServer builds the router. A non-empty token protects every route
// with a bearer token check.
func NewServer(gw GatewayStatus, rl RateLimitStatus, token string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	server := &Server{
		gateway: gw,
		rest:    rl,
		token:   token,
		log:     log.With("component", "status"),
	}
	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := fiber.New()
	if server.token != "" {
		router.Use("/", server.BearerTokenMiddleware)
	}
	router.Get("/status", func(c fiber.Ctx) error {
		res := StatusResponse{
			Gateway: server.gateway.Snapshot(),
		}
		if server.rest != nil {
			res.RateLimit = server.rest.RateLimit()
		}
		return c.JSON(res)
	})
	router.Get("/healthz", func(c fiber.Ctx) error {
		snap := server.gateway.Snapshot()
		if snap.State != gateway.StateConnected.String() {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"state": snap.State})
		}
		return c.JSON(fiber.Map{"state": snap.State})
	})
	server.router = router
}

// StartServer listens on addr until ctx is cancelled.
func (server *Server) StartServer(ctx context.Context, addr string) error {
	server.log.Info("status server started", "addr", addr)
	return server.router.Listen(addr, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
		OnShutdownSuccess: func() {
			server.log.Info("status server stopped")
		},
	})
}
