package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/app"
	"recovery/internal/auth"
	"recovery/internal/domain"
	"recovery/internal/handler"
	"recovery/internal/service"
	"recovery/internal/transport/websocket"
)

func newTestRouter(t *testing.T, h *harness) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier("router-test-secret", "")
	return app.NewRouter(app.RouterDeps{
		BookingHandler:   handler.NewBookingHandler(h.svc),
		WebSocketHandler: websocket.NewHandler(h.core, websocket.Config{}),
		Verifier:         verifier,
		ActiveBookings:   h.svc.ActiveCount,
	}), verifier
}

func bearer(t *testing.T, v *auth.Verifier, id string, role domain.Role) string {
	t.Helper()
	token, err := v.Issue(auth.Principal{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func getBooking(r *gin.Engine, id, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/dispatch/bookings/"+id, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	r, _ := newTestRouter(t, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","activeBookings":0}`, w.Body.String())
}

func TestRouter_BookingSnapshot(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	h.addDriver("d-1", driverOrigin, 2)
	r, v := newTestRouter(t, h)

	result, err := h.create(t, pinned("d-1"))
	require.NoError(t, err)

	t.Run("requester", func(t *testing.T) {
		w := getBooking(r, result.BookingID, bearer(t, v, "rider-1", domain.RoleRider))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Success bool           `json:"success"`
			Data    domain.Booking `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, result.BookingID, body.Data.ID)
		assert.Equal(t, domain.BookingStatusDriverAssigned, body.Data.Status)
	})

	t.Run("assigned driver", func(t *testing.T) {
		w := getBooking(r, result.BookingID, bearer(t, v, "d-1", domain.RoleDriver))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("admin", func(t *testing.T) {
		w := getBooking(r, result.BookingID, bearer(t, v, "ops-1", domain.RoleAdmin))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("outsider sees not found", func(t *testing.T) {
		w := getBooking(r, result.BookingID, bearer(t, v, "rider-2", domain.RoleRider))
		require.Equal(t, http.StatusNotFound, w.Code)

		var body handler.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, handler.CodeNotFound, body.Error.Code)
	})

	t.Run("unknown booking", func(t *testing.T) {
		w := getBooking(r, "no-such-booking", bearer(t, v, "rider-1", domain.RoleRider))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no credential", func(t *testing.T) {
		w := getBooking(r, result.BookingID, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRouter_WebSocketRequiresCredential(t *testing.T) {
	h := newHarness(t, service.BookingConfig{})
	r, _ := newTestRouter(t, h)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
