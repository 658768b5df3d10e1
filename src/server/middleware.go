package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
)

func (server *Server) BearerTokenMiddleware(c fiber.Ctx) error {
	headers := c.GetReqHeaders()
	authorization, ok := headers["Authorization"]
	if !ok || len(authorization) == 0 {
		return c.Status(http.StatusUnauthorized).SendString("missing authorization header")
	}
	token, found := strings.CutPrefix(authorization[0], "Bearer ")
	if !found || subtle.ConstantTimeCompare([]byte(token), []byte(server.token)) != 1 {
		return c.Status(http.StatusUnauthorized).SendString("invalid token")
	}
	return c.Next()
}
