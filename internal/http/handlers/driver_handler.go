package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"corider/internal/modules/availability"
	"corider/internal/modules/fleet"
	"corider/internal/types"
)

type DriverHandler struct {
	availability *availability.Service
	fleet        *fleet.Store
}

func NewDriverHandler(avail *availability.Service, fleetStore *fleet.Store) *DriverHandler {
	return &DriverHandler{availability: avail, fleet: fleetStore}
}

type heartbeatReq struct {
	DriverID  string  `json:"driver_id" binding:"required"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Online    bool    `json:"online"`
	Available bool    `json:"available"`
}

// Heartbeat upserts the driver's position and flags. Offline drivers drop
// out of the index entirely.
func (h *DriverHandler) Heartbeat(c *gin.Context) {
	var req heartbeatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	err := h.availability.Heartbeat(c.Request.Context(), availability.Heartbeat{
		DriverID:  types.ID(req.DriverID),
		Position:  types.Point{Lat: req.Lat, Lng: req.Lng},
		Online:    req.Online,
		Available: req.Available,
		At:        time.Now().UTC(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerVehicleReq struct {
	DriverID string `json:"driver_id" binding:"required"`
	Class    string `json:"ride_class" binding:"required"`
	Capacity int    `json:"capacity" binding:"required"`
	Verified bool   `json:"verified"`
}

func (h *DriverHandler) RegisterVehicle(c *gin.Context) {
	var req registerVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Capacity < 1 {
		badRequest(c, "capacity must be positive")
		return
	}
	v := &fleet.Vehicle{
		ID:       types.NewID(),
		DriverID: types.ID(req.DriverID),
		Class:    req.Class,
		Capacity: req.Capacity,
		Status:   fleet.StatusAvailable,
		Verified: req.Verified,
	}
	if err := h.fleet.Create(c.Request.Context(), v); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vehicle_id": v.ID, "status": v.Status})
}

func (h *DriverHandler) GetVehicle(c *gin.Context) {
	v, err := h.fleet.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle_id": v.ID,
		"driver_id":  v.DriverID,
		"ride_class": v.Class,
		"capacity":   v.Capacity,
		"status":     v.Status,
		"verified":   v.Verified,
	})
}
