package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterOptions struct {
	MetricsPath    string
	MetricsHandler http.Handler
	SwaggerDir     string
	HealthChecks   map[string]HealthCheck
}

type Handlers struct {
	Bookings *BookingHandler
	Flights  *FlightHandler
	Ratings  *RatingHandler
}

func NewRouter(log zerolog.Logger, handlers Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(log))

	router.GET("/healthz", health(opts.HealthChecks))
	if opts.MetricsHandler != nil && opts.MetricsPath != "" {
		router.GET(opts.MetricsPath, gin.WrapH(opts.MetricsHandler))
	}
	if opts.SwaggerDir != "" {
		router.Static("/swagger", opts.SwaggerDir)
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/flightbooking.swagger.json"))))
	}

	api := router.Group("/api")
	handlers.Bookings.Register(api.Group("/bookings"))
	handlers.Flights.Register(api.Group("/flights"))
	handlers.Ratings.Register(api.Group("/ratings"))
	return router
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": report})
	}
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		if len(c.Errors) > 0 {
			event = event.Err(c.Errors.Last().Err)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(started)).
			Msg("request")
	}
}
