package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

// DefaultCORSOrigins are the local frontend dev server origins.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// CORS allows credentialed cross-origin calls from the given origins only.
// Every method is permitted for an allowed origin, and preflight requests
// get their requested headers echoed back.
func CORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowCredentials: true,
	})
}

// RequestLogger logs one line per request with logrus.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"route":      v.RoutePath,
				"status":     v.Status,
				"latency_ms": durationToMillis(v.Latency),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http request")
			return nil
		},
	})
}
