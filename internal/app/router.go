package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"recovery/internal/handler"
	"recovery/internal/middleware"
	"recovery/internal/transport/websocket"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler   *handler.BookingHandler
	WebSocketHandler *websocket.Handler
	Verifier         middleware.TokenVerifier
	NewRelicApp      *newrelic.Application
	// ActiveBookings reports the in-flight bookings on /health. Optional.
	ActiveBookings func() int
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.ActiveBookings != nil {
			body["activeBookings"] = deps.ActiveBookings()
		}
		c.JSON(http.StatusOK, body)
	})

	authenticated := middleware.BearerAuth(deps.Verifier)

	router.GET("/ws", authenticated, deps.WebSocketHandler.Handle)

	v1 := router.Group("/v1", authenticated)
	{
		dispatch := v1.Group("/dispatch")
		{
			dispatch.GET("/bookings/:id", deps.BookingHandler.GetBooking)
		}
	}

	return router
}
