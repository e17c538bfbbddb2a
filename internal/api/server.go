// Package api exposes the migration manager over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/metrics"
	"github.com/dasabhishk/st2/pkg/migration/manager"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// NewRouter builds the echo instance with every route registered. The
// metrics handler is mounted only when it is non-nil.
func NewRouter(h *Handler, metricsHandler http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, Response{Status: true, Msg: "ok"})
	})

	jobs := e.Group("/jobs")
	jobs.POST("", h.StartJob)
	jobs.GET("", h.ListJobs)
	jobs.DELETE("", h.StopAll)
	jobs.GET("/active", h.ListActive)
	jobs.GET("/:id", h.GetJob)
	jobs.DELETE("/:id", h.StopJob)

	e.GET("/categories", h.ListCategories)
	e.GET("/categories/:id/summary", h.CategorySummary)
	e.GET("/errors", h.ErrorCounts)
	e.GET("/recurring", h.ListRecurring)

	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
	return e
}

// ServerParams are the dependencies of the HTTP server.
type ServerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Manager   *manager.Manager
	Metrics   metrics.Handler `optional:"true"`
}

// NewServer registers the HTTP server with the lifecycle when api.enabled
// is set. It returns the router either way.
func NewServer(p ServerParams) *echo.Echo {
	var mh http.Handler
	if p.Metrics != nil {
		mh = p.Metrics
	}
	e := NewRouter(NewHandler(p.Manager), mh)
	if !p.Config.API.Enabled {
		logger.Debugf("HTTP API disabled.")
		return e
	}

	addr := p.Config.API.Address
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Infof("HTTP API listening on %s.", addr)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP API stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Shutting down HTTP API.")
			return e.Shutdown(ctx)
		},
	})
	return e
}

var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Invoke(func(*echo.Echo) {}),
)
