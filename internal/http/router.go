// Package http registers the API routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"corider/internal/http/handlers"
	"corider/internal/http/middleware"
	"corider/internal/modules/availability"
	"corider/internal/modules/carpool"
	"corider/internal/modules/fleet"
	"corider/internal/modules/pricing"
	"corider/internal/modules/ride"
)

type RouterDeps struct {
	Ride         *ride.Service
	Carpool      *carpool.Service
	Availability *availability.Service
	Fleet        *fleet.Store
	Pricing      *pricing.Service
	SpeedKmh     float64
	Log          *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log), middleware.Metrics())

	rideHandler := handlers.NewRideHandler(deps.Ride)
	r.POST("/api/rides", rideHandler.Request)
	r.GET("/api/rides/:id", rideHandler.Get)
	r.GET("/api/rides/:id/events", rideHandler.Events)
	r.POST("/api/rides/:id/accept", rideHandler.Accept)
	r.POST("/api/rides/:id/start", rideHandler.Start)
	r.POST("/api/rides/:id/complete", rideHandler.Complete)
	r.POST("/api/rides/:id/cancel", rideHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Availability, deps.Fleet)
	r.POST("/api/drivers/heartbeat", driverHandler.Heartbeat)
	r.POST("/api/vehicles", driverHandler.RegisterVehicle)
	r.GET("/api/vehicles/:id", driverHandler.GetVehicle)

	carpoolHandler := handlers.NewCarpoolHandler(deps.Carpool)
	r.POST("/api/reservations", carpoolHandler.CreateReservation)
	r.GET("/api/reservations/:id", carpoolHandler.GetReservation)
	r.POST("/api/reservations/:id/cancel", carpoolHandler.CancelReservation)
	r.POST("/api/reservations/:id/join", carpoolHandler.RequestJoin)
	r.GET("/api/reservations/:id/join-requests", carpoolHandler.ListJoinRequests)
	r.GET("/api/reservations/:id/shares", carpoolHandler.ListShares)
	r.POST("/api/join-requests/:id/accept", carpoolHandler.AcceptJoin)
	r.POST("/api/join-requests/:id/reject", carpoolHandler.RejectJoin)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing, deps.SpeedKmh)
	r.GET("/api/pricing/quote", pricingHandler.Quote)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
