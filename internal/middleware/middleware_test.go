package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/auth"
	"recovery/internal/domain"
	"recovery/internal/realtime"
	"recovery/internal/tests"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(v *auth.Verifier) *gin.Engine {
	r := gin.New()
	r.GET("/whoami", BearerAuth(v), func(c *gin.Context) {
		p, ok := auth.PrincipalFrom(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": p.ID, "role": p.Role})
	})
	return r
}

func TestBearerAuth(t *testing.T) {
	v := auth.NewVerifier("test-secret", "")
	token, err := v.Issue(auth.Principal{ID: "user-1", Role: domain.RoleRider}, time.Hour)
	require.NoError(t, err)
	r := newAuthRouter(v)

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"user-1","role":"rider"}`, w.Body.String())
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var body struct {
			Success bool `json:"success"`
			Error   struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "unauthenticated", body.Error.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		other, err := auth.NewVerifier("other-secret", "").Issue(auth.Principal{ID: "user-1", Role: domain.RoleRider}, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func newSession(id string) *realtime.Session {
	return realtime.NewSession(realtime.Identity{ID: id, Role: domain.RoleRider}, nil, 16)
}

func countingHandler(calls *int32, result any, err error) realtime.HandlerFunc {
	return func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
		atomic.AddInt32(calls, 1)
		return result, err
	}
}

func TestIdempotent_ReplaysStoredReply(t *testing.T) {
	cache := tests.NewMockReplyCache()
	var calls int32
	h := Idempotent(cache, time.Minute, realtime.EventRecoveryRequest)(
		realtime.EventRecoveryRequest,
		countingHandler(&calls, map[string]string{"bookingId": "b-1"}, nil),
	)
	s := newSession("user-1")
	env := realtime.Envelope{Event: realtime.EventRecoveryRequest, RequestID: "req-1"}

	first, err := h(context.Background(), s, env)
	require.NoError(t, err)
	second, err := h(context.Background(), s, env)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cache.SetCallCount))
	raw, ok := second.(json.RawMessage)
	require.True(t, ok)
	want, _ := json.Marshal(first)
	assert.JSONEq(t, string(want), string(raw))
}

func TestIdempotent_PassThrough(t *testing.T) {
	cache := tests.NewMockReplyCache()
	mw := Idempotent(cache, 0, realtime.EventRecoveryRequest)
	s := newSession("user-1")

	t.Run("no request id", func(t *testing.T) {
		var calls int32
		h := mw(realtime.EventRecoveryRequest, countingHandler(&calls, "ok", nil))
		env := realtime.Envelope{Event: realtime.EventRecoveryRequest}
		_, _ = h(context.Background(), s, env)
		_, _ = h(context.Background(), s, env)
		assert.Equal(t, int32(2), calls)
	})

	t.Run("unguarded event", func(t *testing.T) {
		var calls int32
		h := mw(realtime.EventDriverLocationUpdate, countingHandler(&calls, "ok", nil))
		env := realtime.Envelope{Event: realtime.EventDriverLocationUpdate, RequestID: "req-2"}
		_, _ = h(context.Background(), s, env)
		_, _ = h(context.Background(), s, env)
		assert.Equal(t, int32(2), calls)
	})

	t.Run("failures are not stored", func(t *testing.T) {
		var calls int32
		h := mw(realtime.EventRecoveryRequest, countingHandler(&calls, nil, errors.New("boom")))
		env := realtime.Envelope{Event: realtime.EventRecoveryRequest, RequestID: "req-3"}
		_, err := h(context.Background(), s, env)
		assert.Error(t, err)
		_, err = h(context.Background(), s, env)
		assert.Error(t, err)
		assert.Equal(t, int32(2), calls)
	})

	t.Run("request ids are scoped per session", func(t *testing.T) {
		var calls int32
		h := mw(realtime.EventRecoveryRequest, countingHandler(&calls, "ok", nil))
		env := realtime.Envelope{Event: realtime.EventRecoveryRequest, RequestID: "req-4"}
		_, _ = h(context.Background(), newSession("user-a"), env)
		_, _ = h(context.Background(), newSession("user-b"), env)
		_, _ = h(context.Background(), newSession("user-a"), env)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("recycled request id with new data", func(t *testing.T) {
		var calls int32
		h := Idempotent(cache, 0, realtime.EventRecoveryCancel)(
			realtime.EventRecoveryCancel, countingHandler(&calls, "ok", nil),
		)
		first := realtime.Envelope{Event: realtime.EventRecoveryCancel, RequestID: "req-5", Data: json.RawMessage(`{"bookingId":"b-1"}`)}
		second := realtime.Envelope{Event: realtime.EventRecoveryCancel, RequestID: "req-5", Data: json.RawMessage(`{"bookingId":"b-2"}`)}
		_, _ = h(context.Background(), s, first)
		_, _ = h(context.Background(), s, second)
		_, _ = h(context.Background(), s, first)
		assert.Equal(t, int32(2), calls)
	})
}

func TestIdempotent_CacheErrorFallsThrough(t *testing.T) {
	cache := tests.NewMockReplyCache()
	cache.GetError = tests.ErrMockTimeout
	var calls int32
	h := Idempotent(cache, time.Minute, realtime.EventRecoveryRequest)(
		realtime.EventRecoveryRequest, countingHandler(&calls, "ok", nil),
	)

	result, err := h(context.Background(), newSession("user-1"),
		realtime.Envelope{Event: realtime.EventRecoveryRequest, RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(1), calls)
}

func TestInstrument(t *testing.T) {
	t.Run("nil app", func(t *testing.T) {
		var calls int32
		h := Instrument(nil)(realtime.EventMessageSend, countingHandler(&calls, "ok", nil))
		result, err := h(context.Background(), newSession("user-1"), realtime.Envelope{Event: realtime.EventMessageSend})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	})

	t.Run("transaction on context", func(t *testing.T) {
		app, err := newrelic.NewApplication(
			newrelic.ConfigAppName("recovery-test"),
			newrelic.ConfigEnabled(false),
		)
		require.NoError(t, err)

		boom := errors.New("boom")
		var sawTxn bool
		h := Instrument(app)(realtime.EventMessageSend, func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
			sawTxn = newrelic.FromContext(ctx) != nil
			return nil, boom
		})
		_, err = h(context.Background(), newSession("user-1"), realtime.Envelope{Event: realtime.EventMessageSend, RequestID: "r"})
		assert.ErrorIs(t, err, boom)
		assert.True(t, sawTxn)
	})
}
