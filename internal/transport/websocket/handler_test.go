package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/auth"
	"recovery/internal/domain"
	"recovery/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAuth trusts the id and role query parameters.
func stubAuth(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.Next()
		return
	}
	p := &auth.Principal{ID: id, Role: domain.Role(c.Query("role"))}
	c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
	c.Next()
}

func newTestServer(t *testing.T, core *realtime.Core) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/ws", stubAuth, NewHandler(core, Config{SendQueueSize: 32}).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, id string, role domain.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?id=" + id + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event     realtime.Event      `json:"event"`
	RequestID string              `json:"requestId"`
	Data      json.RawMessage     `json:"data"`
	Error     *realtime.ErrorBody `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHandle_AnnouncesSession(t *testing.T) {
	core := realtime.NewCore(time.Hour)
	srv := newTestServer(t, core)

	conn := dial(t, srv, "rider-1", domain.RoleRider)
	f := readFrame(t, conn)

	require.Equal(t, realtime.EventAuthenticated, f.Event)
	var payload struct {
		IdentityID string      `json:"identityId"`
		Role       domain.Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, "rider-1", payload.IdentityID)
	assert.Equal(t, domain.RoleRider, payload.Role)
	assert.True(t, core.IsOnline("rider-1"))
}

func TestHandle_RequiresPrincipal(t *testing.T) {
	srv := newTestServer(t, realtime.NewCore(time.Hour))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandle_DispatchesFrames(t *testing.T) {
	core := realtime.NewCore(time.Hour)
	core.Dispatcher.On(realtime.EventMessageSend, func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
		return map[string]string{"from": s.IdentityID()}, nil
	})
	srv := newTestServer(t, core)
	conn := dial(t, srv, "rider-1", domain.RoleRider)
	readFrame(t, conn)

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","requestId":"p1"}`)))
		f := readFrame(t, conn)
		assert.Equal(t, realtime.EventPong, f.Event)
		assert.Equal(t, "p1", f.RequestID)
	})

	t.Run("handled event", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"message.send","requestId":"m1","data":{}}`)))
		f := readFrame(t, conn)
		assert.Equal(t, realtime.EventMessageSend, f.Event)
		assert.Equal(t, "m1", f.RequestID)
		assert.JSONEq(t, `{"from":"rider-1"}`, string(f.Data))
	})

	t.Run("malformed envelope", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
		f := readFrame(t, conn)
		assert.Equal(t, realtime.EventError, f.Event)
		require.NotNil(t, f.Error)
		assert.Equal(t, realtime.CodeInvalidEnvelope, f.Error.Code)
	})

	t.Run("unhandled event", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"room.join","requestId":"r1"}`)))
		f := readFrame(t, conn)
		require.NotNil(t, f.Error)
		assert.Equal(t, realtime.CodeUnhandledEvent, f.Error.Code)
		assert.Equal(t, "r1", f.RequestID)
	})
}

func TestHandle_CloseUnregisters(t *testing.T) {
	core := realtime.NewCore(time.Hour)
	disconnected := make(chan string, 1)
	core.OnDisconnect(func(s *realtime.Session) { disconnected <- s.IdentityID() })
	srv := newTestServer(t, core)

	conn := dial(t, srv, "driver-1", domain.RoleDriver)
	readFrame(t, conn)
	require.True(t, core.IsOnline("driver-1"))

	require.NoError(t, conn.Close())

	select {
	case id := <-disconnected:
		assert.Equal(t, "driver-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not cleaned up")
	}
	assert.False(t, core.IsOnline("driver-1"))
}

func TestHandle_HeartbeatKeepsResponsivePeer(t *testing.T) {
	core := realtime.NewCore(30 * time.Millisecond)
	srv := newTestServer(t, core)
	conn := dial(t, srv, "rider-1", domain.RoleRider)

	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatal("no ping received")
		}
	}
	assert.True(t, core.IsOnline("rider-1"))
}

func TestHandle_HeartbeatEvictsSilentPeer(t *testing.T) {
	core := realtime.NewCore(30 * time.Millisecond)
	srv := newTestServer(t, core)

	// Without a reader the client never answers pings.
	dial(t, srv, "rider-1", domain.RoleRider)

	assert.Eventually(t, func() bool { return !core.IsOnline("rider-1") }, 2*time.Second, 10*time.Millisecond)
}
