package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"corider/internal/geo"
	"corider/internal/modules/pricing"
	"corider/internal/types"
)

type PricingHandler struct {
	pricing  *pricing.Service
	speedKmh float64
}

func NewPricingHandler(svc *pricing.Service, speedKmh float64) *PricingHandler {
	return &PricingHandler{pricing: svc, speedKmh: speedKmh}
}

// Quote prices a trip without creating anything. Coordinates come in as
// query parameters so clients can poll while the rider drags the map pin.
func (h *PricingHandler) Quote(c *gin.Context) {
	class := c.Query("ride_class")
	if class == "" {
		badRequest(c, "ride_class is required")
		return
	}
	p, ok := parsePoint(c, "pickup_lat", "pickup_lng")
	if !ok {
		return
	}
	d, ok := parsePoint(c, "dropoff_lat", "dropoff_lng")
	if !ok {
		return
	}

	distanceKm := geo.DistanceKm(p, d)
	durationMin := geo.ETAMinutes(distanceKm, h.speedKmh)
	total, err := h.pricing.BasePrice(c.Request.Context(), class, distanceKm, durationMin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ride_class":   class,
		"distance_km":  distanceKm,
		"duration_min": durationMin,
		"total":        total.Amount,
		"currency":     total.Currency,
	})
}

func parsePoint(c *gin.Context, latKey, lngKey string) (types.Point, bool) {
	lat, err := strconv.ParseFloat(c.Query(latKey), 64)
	if err != nil {
		badRequest(c, latKey+" is not a number")
		return types.Point{}, false
	}
	lng, err := strconv.ParseFloat(c.Query(lngKey), 64)
	if err != nil {
		badRequest(c, lngKey+" is not a number")
		return types.Point{}, false
	}
	p := types.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		badRequest(c, "coordinates out of range")
		return types.Point{}, false
	}
	return p, true
}
