package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opsassist/internal/config"
)

// Server serves the v1 API together with health and metrics endpoints.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	logger *slog.Logger

	events    *EventHandler
	incidents *IncidentHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config          *config.ServerConfig
	Logger          *slog.Logger
	EventHandler    *EventHandler
	IncidentHandler *IncidentHandler
}

// NewServer builds the Fiber app and registers every route.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		config:    deps.Config,
		logger:    deps.Logger.With("component", "http"),
		events:    deps.EventHandler,
		incidents: deps.IncidentHandler,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "opsassist",
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           deps.Config.ReadTimeout,
		WriteTimeout:          deps.Config.WriteTimeout,
		IdleTimeout:           deps.Config.IdleTimeout,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(
		recover.New(recover.Config{EnableStackTrace: true}),
		requestid.New(),
		logger.New(logger.Config{
			Format:     "${time} | ${locals:requestid} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
			TimeFormat: time.RFC3339,
		}),
	)

	for _, path := range []string{"/", "/health", "/healthz"} {
		s.app.Get(path, s.healthCheck)
	}
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	v1.Post("/events", s.events.Ingest)
	v1.Get("/events", s.events.List)
	v1.Get("/events/:id", s.events.GetByID)
	v1.Get("/incidents", s.incidents.List)
	v1.Get("/incidents/:id", s.incidents.GetByID)
	v1.Patch("/incidents/:id/status", s.incidents.UpdateStatus)

	return s
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return Success(c, fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// App exposes the Fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders errors that escaped a handler, such as unknown routes
// and panics caught by recover.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound:
			return NotFound(c, fe.Message)
		case fiber.StatusBadRequest:
			return BadRequest(c, fe.Message)
		case fiber.StatusMethodNotAllowed:
			return Error(c, fe.Code, ErrCodeBadRequest, fe.Message)
		}
	}

	s.logger.Error("unhandled request error",
		"method", c.Method(),
		"path", c.Path(),
		"error", err,
	)
	return InternalError(c, "internal error")
}
