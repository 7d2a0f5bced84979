package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/Domenick1991/flightbooking/internal/service/flights"
	"github.com/gin-gonic/gin"
)

// Refunder compensates the completed bookings of a cancelled flight.
type Refunder interface {
	RefundFlight(ctx context.Context, bookings []domain.Booking) booking.RefundSummary
}

type FlightHandler struct {
	service  flights.FlightUseCase
	refunder Refunder
}

type reviewFlightRequest struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejection_reason"`
}

func NewFlightHandler(service flights.FlightUseCase, refunder Refunder) *FlightHandler {
	return &FlightHandler{service: service, refunder: refunder}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/tabs", h.tabs)
	router.GET("/pending", h.pending)
	router.GET("/:id", h.get)
	router.POST("/:id/approve", h.review)
	router.PUT("/:id", h.update)
	router.POST("/:id/cancel", h.cancel)
	router.DELETE("/:id", h.delete)
}

func (h *FlightHandler) create(c *gin.Context) {
	var input flights.CreateFlightInput
	if !bindJSON(c, &input) {
		return
	}
	flight, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"flight": flight})
}

func (h *FlightHandler) list(c *gin.Context) {
	filter := domain.FlightFilter{
		Name:   c.Query("name"),
		Status: domain.FlightStatus(c.Query("status")),
	}
	if raw := c.Query("airline_id"); raw != "" {
		airlineID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, apperr.Validation("invalid airline_id", map[string]any{"airline_id": raw}))
			return
		}
		filter.AirlineID = airlineID
	}

	views, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flights": views, "total": len(views)})
}

func (h *FlightHandler) tabs(c *gin.Context) {
	tabs, err := h.service.Tabs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tabs)
}

func (h *FlightHandler) pending(c *gin.Context) {
	pending, err := h.service.Pending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flights": pending, "total": len(pending)})
}

func (h *FlightHandler) get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flight": view})
}

func (h *FlightHandler) review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewFlightRequest
	if !bindJSON(c, &req) {
		return
	}

	var (
		flight *domain.Flight
		err    error
	)
	switch req.Action {
	case "approve":
		flight, err = h.service.Approve(c.Request.Context(), id)
	case "reject":
		flight, err = h.service.Reject(c.Request.Context(), id, req.RejectionReason)
	default:
		err = apperr.Validation("action must be approve or reject", map[string]any{"action": req.Action})
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flight": flight})
}

func (h *FlightHandler) update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input flights.UpdateFlightInput
	if !bindJSON(c, &input) {
		return
	}
	flight, err := h.service.Update(c.Request.Context(), id, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flight": flight})
}

// cancel cancels the flight first, then refunds its completed bookings.
func (h *FlightHandler) cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	// The flight is already cancelled; a client hanging up must not stop
	// the refunds halfway.
	refunds := h.refunder.RefundFlight(context.WithoutCancel(c.Request.Context()), result.Bookings)
	c.JSON(http.StatusOK, gin.H{
		"flight":         result.Flight,
		"affected_users": result.AffectedUsers,
		"refunds":        refunds,
	})
}

func (h *FlightHandler) delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
