package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"corider/internal/modules/ride"
	"corider/internal/types"
)

type RideHandler struct {
	ride *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{ride: svc}
}

type requestRideReq struct {
	RiderID        string  `json:"rider_id" binding:"required"`
	PickupLat      float64 `json:"pickup_lat"`
	PickupLng      float64 `json:"pickup_lng"`
	DropoffLat     float64 `json:"dropoff_lat"`
	DropoffLng     float64 `json:"dropoff_lng"`
	PickupAddress  string  `json:"pickup_address"`
	DropoffAddress string  `json:"dropoff_address"`
	Class          string  `json:"ride_class" binding:"required"`
	PassengerCount int     `json:"passenger_count" binding:"required"`
}

type rideResponse struct {
	RideID         types.ID    `json:"ride_id"`
	RiderID        types.ID    `json:"rider_id"`
	DriverID       *types.ID   `json:"driver_id,omitempty"`
	VehicleID      *types.ID   `json:"vehicle_id,omitempty"`
	Status         ride.Status `json:"status"`
	PickupAddress  string      `json:"pickup_address,omitempty"`
	DropoffAddress string      `json:"dropoff_address,omitempty"`
	EstimatedFare  int64       `json:"estimated_fare"`
	TotalFare      int64       `json:"total_fare,omitempty"`
	DriverEarnings int64       `json:"driver_earnings,omitempty"`
	PlatformFee    int64       `json:"platform_fee,omitempty"`
	Currency       string      `json:"currency"`
	RequestedAt    time.Time   `json:"requested_at"`
}

func toRideResponse(r *ride.Ride) rideResponse {
	return rideResponse{
		RideID:         r.ID,
		RiderID:        r.RiderID,
		DriverID:       r.DriverID,
		VehicleID:      r.VehicleID,
		Status:         r.Status,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		EstimatedFare:  r.EstimatedFare.Amount,
		TotalFare:      r.TotalFare.Amount,
		DriverEarnings: r.DriverEarnings.Amount,
		PlatformFee:    r.PlatformFee.Amount,
		Currency:       r.EstimatedFare.Currency,
		RequestedAt:    r.RequestedAt,
	}
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.ride.Request(c.Request.Context(), ride.RequestCommand{
		RiderID:        types.ID(req.RiderID),
		Pickup:         types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:        types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Class:          req.Class,
		PassengerCount: req.PassengerCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRideResponse(r))
}

func (h *RideHandler) Get(c *gin.Context) {
	r, err := h.ride.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

type eventResponse struct {
	From      ride.Status `json:"from,omitempty"`
	To        ride.Status `json:"to"`
	ActorType string      `json:"actor_type"`
	ActorID   *types.ID   `json:"actor_id,omitempty"`
	At        time.Time   `json:"at"`
}

func (h *RideHandler) Events(c *gin.Context) {
	events, err := h.ride.Events(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{From: e.FromStatus, To: e.ToStatus, ActorType: e.ActorType, ActorID: e.ActorID, At: e.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

type driverActionReq struct {
	DriverID string `json:"driver_id" binding:"required"`
}

func (h *RideHandler) Accept(c *gin.Context) {
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.ride.Accept(c.Request.Context(), ride.AcceptCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (h *RideHandler) Start(c *gin.Context) {
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.ride.Start(c.Request.Context(), ride.StartCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

func (h *RideHandler) Complete(c *gin.Context) {
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.ride.Complete(c.Request.Context(), ride.CompleteCommand{
		RideID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}

type cancelRideReq struct {
	ActorType string `json:"actor_type" binding:"required"`
	ActorID   string `json:"actor_id" binding:"required"`
	ReasonID  string `json:"reason_id"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.ride.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:    types.ID(c.Param("id")),
		ActorType: req.ActorType,
		ActorID:   types.ID(req.ActorID),
		ReasonID:  req.ReasonID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRideResponse(r))
}
