// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package diagnostics exposes a read-only introspection surface over a
// running session.Session, grounded on the teacher's internal/api server
// (fiber wiring) but deliberately narrow: no session-management or message-
// sending routes, since the library's Non-goals exclude a fluent HTTP API.
// It exists for operators, not for driving the client.
package diagnostics

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/router"
)

// Inspectable is the subset of session.Session diagnostics depends on.
// Declared as an interface so this package doesn't import session (session
// already depends on router and appstate; importing it back here would
// invite a cycle with no benefit, since only these two accessors are
// needed).
type Inspectable interface {
	Router() *router.RequestRouter
	AppState() *appstate.Engine
}

// Config configures the diagnostics server.
type Config struct {
	Session     Inspectable
	Logger      *zap.SugaredLogger
	Collections []appstate.Collection // collections to report versions for
}

// Server is a bare fiber app serving GET-only introspection routes.
type Server struct {
	app *fiber.App
	cfg Config
}

// NewServer builds the diagnostics server. It intentionally does not pull
// in the teacher's cors/logger/recover middleware trio: those belong to
// the excluded fluent API's request surface, not a read-only sidecar
// meant to be scraped by an operator or a monitoring agent.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	app := fiber.New(fiber.Config{
		AppName:               "waconnect-diagnostics",
		DisableStartupMessage: true,
	})

	s := &Server{app: app, cfg: cfg}
	app.Get("/health", s.health)
	app.Get("/debug/requests", s.pendingRequests)
	app.Get("/debug/appstate", s.appStateVersions)
	return s
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// pendingRequests reports the RequestRouter's current waiter count, the
// one number that tells an operator whether iq round-trips are backing up
// .
func (s *Server) pendingRequests(c *fiber.Ctx) error {
	count := s.cfg.Session.Router().PendingCount()
	return c.JSON(fiber.Map{"pending_requests": count})
}

// appStateVersions reports each watched collection's current CRDT
// version, so an operator can tell at a glance whether a
// collection is stuck mid-sync.
func (s *Server) appStateVersions(c *fiber.Ctx) error {
	engine := s.cfg.Session.AppState()
	out := make([]fiber.Map, 0, len(s.cfg.Collections))
	for _, name := range s.cfg.Collections {
		st := engine.State(name)
		out = append(out, fiber.Map{
			"collection": string(name),
			"version":    st.Version,
		})
	}
	return c.JSON(fiber.Map{"collections": out})
}

// Listen starts the server on addr, blocking until it stops or errors.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
