// Package server exposes an annotation persistence.Repository over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/metrics"
	"github.com/menta2k/annotation-overlay/pkg/persistence"
)

type Config struct {
	Addr      string
	BodyLimit int
}

type Server struct {
	app      *fiber.App
	cfg      Config
	repo     persistence.Repository
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New builds the service. Collectors are registered on reg and served on
// /metrics; a nil reg gets a private registry.
func New(cfg Config, repo persistence.Repository, logger *zap.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}

	s := &Server{
		cfg:      cfg,
		repo:     repo,
		validate: validator.New(),
		logger:   logger.Named("server"),
		metrics:  metrics.New(reg),
	}
	s.app = fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(s.observe)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	s.registerRoutes(s.app.Group("/api"))
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until Shutdown
func (s *Server) Run() error {
	s.logger.Info("annotation store listening", zap.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

func (s *Server) registerRoutes(r fiber.Router) {
	h := r.Group("/annotations")
	h.Post("", s.create)
	h.Get("", s.list)
	h.Put(":id", s.update)
	h.Delete(":id", s.delete)
}

func (s *Server) create(c *fiber.Ctx) error {
	var rec persistence.Record
	if err := c.BodyParser(&rec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed record")
	}
	if err := s.check(rec); err != nil {
		return err
	}

	saved, err := s.repo.Create(c.UserContext(), rec)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (s *Server) list(c *fiber.Ctx) error {
	instanceID := c.Query("instanceId")
	if instanceID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "instanceId is required")
	}
	records, err := s.repo.GetByInstanceID(c.UserContext(), instanceID)
	if err != nil {
		return err
	}
	if records == nil {
		records = []persistence.Record{}
	}
	return c.JSON(records)
}

func (s *Server) update(c *fiber.Ctx) error {
	var rec persistence.Record
	if err := c.BodyParser(&rec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed record")
	}
	rec.ID = c.Params("id")
	if err := s.check(rec); err != nil {
		return err
	}

	saved, err := s.repo.Update(c.UserContext(), rec)
	if err != nil {
		return err
	}
	return c.JSON(saved)
}

func (s *Server) delete(c *fiber.Ctx) error {
	if err := s.repo.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// check validates the record envelope and that the payload is JSON
func (s *Server) check(rec persistence.Record) error {
	if err := s.validate.Struct(rec); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	if !json.Valid([]byte(rec.AnnotationData)) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "annotationData is not JSON")
	}
	return nil
}

func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.metrics.ObserveHTTP(c.Route().Path, time.Since(start))
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, persistence.ErrRecordNotFound):
		code = fiber.StatusNotFound
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
