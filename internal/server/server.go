package server

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/template/html/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/internal/metrics"
	"yashubustudio/attackmapper/mapper"
)

//go:embed views
var viewsFS embed.FS

// Server wraps the Fiber app and its collaborators.
type Server struct {
	App     *fiber.App
	Cfg     mapper.ServerConfig
	session *app.Session
	results *ResultStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options carries the optional collaborators of New.
type Options struct {
	Results  *ResultStore
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// New creates a server with middleware and routes configured.
func New(cfg mapper.ServerConfig, session *app.Session, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Results == nil {
		opts.Results = NewMemoryResultStore(cfg.ResultTTL.Std())
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	views, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(views), ".html")

	s := &Server{
		Cfg:     cfg,
		session: session,
		results: opts.Results,
		metrics: metrics.New(opts.Registry),
		logger:  opts.Logger,
	}

	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 32
	}
	s.App = fiber.New(fiber.Config{
		Views:        engine,
		ViewsLayout:  "layouts/main",
		BodyLimit:    bodyLimit << 20,
		ErrorHandler: s.handleError,
	})

	s.App.Use(recover.New())
	s.App.Use(logger.New())
	if cfg.RequestsPerMin > 0 {
		s.App.Use(limiter.New(limiter.Config{
			Max:        cfg.RequestsPerMin,
			Expiration: time.Minute,
			Next: func(c fiber.Ctx) bool {
				// Probes and scrapes are not rate limited.
				return c.Path() == "/healthz" || c.Path() == "/metrics"
			},
			KeyGenerator: func(c fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"status": "error",
					"error":  "Rate limit exceeded. Please try again later.",
				})
			},
		}))
	}

	s.registerRoutes(opts.Registry)
	return s
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.App.Get("/", s.index)
	s.App.Post("/preview", s.previewUpload)
	s.App.Post("/map", s.mapUpload)
	s.App.Post("/map/:id", s.mapPreviewed)
	s.App.Get("/results/:id/csv", s.downloadCSV)
	s.App.Get("/results/:id/layer.json", s.downloadLayer)

	api := s.App.Group("/api")
	api.Post("/map", s.apiMap)
	api.Post("/reload", s.apiReload)

	s.App.Get("/healthz", s.health)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

// Start listens on the configured address.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.Cfg.Addr)
	return s.App.Listen(s.Cfg.Addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown gracefully stops the server and closes the result store.
func (s *Server) Shutdown() error {
	err := s.App.Shutdown()
	if cerr := s.results.Close(); err == nil {
		err = cerr
	}
	return err
}

// InvalidateTaxonomy drops the session cache and counts the trigger.
func (s *Server) InvalidateTaxonomy(trigger string) {
	s.session.Invalidate()
	s.metrics.ObserveReload(trigger)
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case app.IsUserError(err):
		code = fiber.StatusBadRequest
	case errors.Is(err, ErrResultNotFound):
		code = fiber.StatusNotFound
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "err", err)
	}

	if strings.HasPrefix(c.Path(), "/api/") {
		return jsonError(c, code, message)
	}
	return c.Status(code).Render("error", fiber.Map{
		"Title":   "Error",
		"Code":    code,
		"Message": message,
		"Model":   s.session.Service().ModelID(),
	})
}

func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

func jsonSuccess(c fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"data":   data,
	})
}
