package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recovery/internal/auth"
	"recovery/internal/domain"
	"recovery/internal/service"
)

// BookingHandler serves booking snapshots over HTTP so clients can resync
// after a reconnect.
type BookingHandler struct {
	bookings *service.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookings *service.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// GetBooking handles GET /v1/dispatch/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: wireBody(CodeUnauthenticated, "missing credentials")})
		return
	}

	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if principal.Role != domain.RoleAdmin && !b.IsParticipant(principal.ID) {
		// Outsiders cannot probe which booking ids exist.
		respondError(c, service.ErrBookingNotFound)
		return
	}

	respondJSON(c, http.StatusOK, b)
}
