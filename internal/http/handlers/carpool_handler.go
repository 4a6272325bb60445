package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"corider/internal/modules/carpool"
	"corider/internal/types"
)

type CarpoolHandler struct {
	carpool *carpool.Service
}

func NewCarpoolHandler(svc *carpool.Service) *CarpoolHandler {
	return &CarpoolHandler{carpool: svc}
}

type createReservationReq struct {
	RiderID             string    `json:"rider_id" binding:"required"`
	PickupLat           float64   `json:"pickup_lat"`
	PickupLng           float64   `json:"pickup_lng"`
	DropoffLat          float64   `json:"dropoff_lat"`
	DropoffLng          float64   `json:"dropoff_lng"`
	PickupAddress       string    `json:"pickup_address"`
	DropoffAddress      string    `json:"dropoff_address"`
	ScheduledAt         time.Time `json:"scheduled_at" binding:"required"`
	Class               string    `json:"ride_class" binding:"required"`
	Shareable           bool      `json:"shareable"`
	MaxSharedPassengers int       `json:"max_shared_passengers"`
	MaxDetourMinutes    float64   `json:"max_detour_minutes"`
}

type reservationResponse struct {
	ReservationID        types.ID                  `json:"reservation_id"`
	RiderID              types.ID                  `json:"rider_id"`
	Status               carpool.ReservationStatus `json:"status"`
	ScheduledAt          time.Time                 `json:"scheduled_at"`
	TotalDistanceKm      float64                   `json:"total_distance_km"`
	TotalPrice           int64                     `json:"total_price"`
	Currency             string                    `json:"currency"`
	Shareable            bool                      `json:"shareable"`
	RemainingSeats       int                       `json:"remaining_seats"`
	SharedPricePerPerson int64                     `json:"shared_price_per_person,omitempty"`
}

func toReservationResponse(r *carpool.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID:        r.ID,
		RiderID:              r.RiderID,
		Status:               r.Status,
		ScheduledAt:          r.ScheduledAt,
		TotalDistanceKm:      r.TotalDistanceKm,
		TotalPrice:           r.TotalPrice.Amount,
		Currency:             r.TotalPrice.Currency,
		Shareable:            r.Shareable,
		RemainingSeats:       r.RemainingSeats(),
		SharedPricePerPerson: r.SharedPricePerPerson.Amount,
	}
}

func (h *CarpoolHandler) CreateReservation(c *gin.Context) {
	var req createReservationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.carpool.CreateReservation(c.Request.Context(), carpool.CreateReservationCommand{
		RiderID:             types.ID(req.RiderID),
		Pickup:              types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:             types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PickupAddress:       req.PickupAddress,
		DropoffAddress:      req.DropoffAddress,
		ScheduledAt:         req.ScheduledAt,
		Class:               req.Class,
		Shareable:           req.Shareable,
		MaxSharedPassengers: req.MaxSharedPassengers,
		MaxDetourMinutes:    req.MaxDetourMinutes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReservationResponse(r))
}

func (h *CarpoolHandler) GetReservation(c *gin.Context) {
	r, err := h.carpool.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(r))
}

type cancelReservationReq struct {
	RiderID string `json:"rider_id" binding:"required"`
}

func (h *CarpoolHandler) CancelReservation(c *gin.Context) {
	var req cancelReservationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	err := h.carpool.CancelReservation(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.RiderID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": carpool.ReservationCanceled})
}

type joinReq struct {
	RequesterID string  `json:"requester_id" binding:"required"`
	PickupLat   float64 `json:"pickup_lat"`
	PickupLng   float64 `json:"pickup_lng"`
	DropoffLat  float64 `json:"dropoff_lat"`
	DropoffLng  float64 `json:"dropoff_lng"`
}

type joinResponse struct {
	JoinRequestID     types.ID           `json:"join_request_id"`
	ReservationID     types.ID           `json:"reservation_id"`
	Status            carpool.JoinStatus `json:"status"`
	Score             float64            `json:"score"`
	AdditionalKm      float64            `json:"additional_km"`
	AdditionalMinutes float64            `json:"additional_minutes"`
	ExpiresAt         time.Time          `json:"expires_at"`
}

func toJoinResponse(j *carpool.JoinRequest) joinResponse {
	return joinResponse{
		JoinRequestID:     j.ID,
		ReservationID:     j.ReservationID,
		Status:            j.Status,
		Score:             j.Score,
		AdditionalKm:      j.AdditionalKm,
		AdditionalMinutes: j.AdditionalMinutes,
		ExpiresAt:         j.ExpiresAt,
	}
}

func (h *CarpoolHandler) RequestJoin(c *gin.Context) {
	var req joinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	j, err := h.carpool.RequestJoin(c.Request.Context(), carpool.JoinCommand{
		ReservationID: types.ID(c.Param("id")),
		RequesterID:   types.ID(req.RequesterID),
		Pickup:        types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:       types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toJoinResponse(j))
}

func (h *CarpoolHandler) ListJoinRequests(c *gin.Context) {
	requests, err := h.carpool.ListJoinRequests(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]joinResponse, 0, len(requests))
	for i := range requests {
		out = append(out, toJoinResponse(&requests[i]))
	}
	c.JSON(http.StatusOK, gin.H{"join_requests": out})
}

type ownerActionReq struct {
	RiderID string `json:"rider_id" binding:"required"`
}

func (h *CarpoolHandler) AcceptJoin(c *gin.Context) {
	var req ownerActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	j, err := h.carpool.AcceptJoin(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.RiderID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJoinResponse(j))
}

func (h *CarpoolHandler) RejectJoin(c *gin.Context) {
	var req ownerActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := h.carpool.RejectJoin(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.RiderID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": carpool.JoinRejected})
}

type shareResponse struct {
	PassengerID   types.ID              `json:"passenger_id"`
	FareShare     int64                 `json:"fare_share"`
	Currency      string                `json:"currency"`
	PickupOrder   int                   `json:"pickup_order"`
	DropoffOrder  int                   `json:"dropoff_order"`
	PaymentStatus carpool.PaymentStatus `json:"payment_status"`
}

func (h *CarpoolHandler) ListShares(c *gin.Context) {
	shares, err := h.carpool.ListShares(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]shareResponse, 0, len(shares))
	for _, sp := range shares {
		out = append(out, shareResponse{
			PassengerID:   sp.PassengerID,
			FareShare:     sp.FareShare.Amount,
			Currency:      sp.FareShare.Currency,
			PickupOrder:   sp.PickupOrder,
			DropoffOrder:  sp.DropoffOrder,
			PaymentStatus: sp.PaymentStatus,
		})
	}
	c.JSON(http.StatusOK, gin.H{"shares": out})
}
