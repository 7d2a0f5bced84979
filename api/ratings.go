package api

import (
	"net/http"

	"github.com/Domenick1991/flightbooking/internal/service/ratings"
	"github.com/gin-gonic/gin"
)

type RatingHandler struct {
	service ratings.RatingUseCase
}

func NewRatingHandler(service ratings.RatingUseCase) *RatingHandler {
	return &RatingHandler{service: service}
}

func (h *RatingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/:id", h.get)
	router.GET("/flight/:flight_id", h.listByFlight)
}

func (h *RatingHandler) create(c *gin.Context) {
	var input ratings.CreateRatingInput
	if !bindJSON(c, &input) {
		return
	}
	rating, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rating": rating})
}

func (h *RatingHandler) get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rating, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": rating})
}

func (h *RatingHandler) listByFlight(c *gin.Context) {
	flightID, ok := pathID(c, "flight_id")
	if !ok {
		return
	}
	result, err := h.service.ListForFlight(c.Request.Context(), flightID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
