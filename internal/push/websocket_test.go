package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type testUserKey struct{}

func testUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(testUserKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// withTestUser authenticates requests carrying an X-Test-User header.
func withTestUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(r.Header.Get("X-Test-User")); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), testUserKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

func dialWS(t *testing.T, serverURL string, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	cfg, err := websocket.NewConfig("ws"+strings.TrimPrefix(serverURL, "http")+"/ws", serverURL)
	require.NoError(t, err)
	cfg.Header = http.Header{"X-Test-User": []string{userID.String()}}
	conn, err := websocket.DialConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frameType, requestID string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(conn).Encode(Frame{Type: frameType, RequestID: requestID, Payload: raw}))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, json.NewDecoder(conn).Decode(&f))
	return f
}

func newTestServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", withTestUser(g.Handler(testUserID, WithClientBuffer(8))))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_RequiresAuthenticatedUser(t *testing.T) {
	g := NewGateway(newFakeSource(), nil, testLogger())
	srv := newTestServer(t, g)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-User", uuid.NewString())
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestWebSocket_SubscribeBroadcastAndResync(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	srv := newTestServer(t, g)

	userID := uuid.New()
	snap := runningSnapshot(userID, 600000)
	source.put(snap)

	conn := dialWS(t, srv.URL, userID)
	writeFrame(t, conn, FrameSubscribe, "sub-1", SessionRequest{SessionID: snap.SessionID.String()})

	state := readFrame(t, conn)
	assert.Equal(t, FrameState, state.Type)
	assert.Equal(t, "sub-1", state.RequestID)
	var payload StatePayload
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	assert.Equal(t, int64(600000), payload.RemainingMs)

	ack := readFrame(t, conn)
	assert.Equal(t, FrameAck, ack.Type)

	require.Eventually(t, func() bool { return g.Subscribers(snap.SessionID) == 1 }, time.Second, 5*time.Millisecond)
	g.Broadcast(events.ReasonPaused, snap)
	pushed := readFrame(t, conn)
	require.NoError(t, json.Unmarshal(pushed.Payload, &payload))
	assert.Equal(t, events.ReasonPaused, payload.Reason)

	later := snap
	later.RemainingMs = 120000
	source.put(later)
	writeFrame(t, conn, FrameResync, "re-1", SessionRequest{SessionID: snap.SessionID.String()})
	resynced := readFrame(t, conn)
	assert.Equal(t, "re-1", resynced.RequestID)
	require.NoError(t, json.Unmarshal(resynced.Payload, &payload))
	assert.Equal(t, int64(120000), payload.RemainingMs)
}

func TestWebSocket_Errors(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	srv := newTestServer(t, g)

	conn := dialWS(t, srv.URL, uuid.New())

	writeFrame(t, conn, "session.dance", "x-1", SessionRequest{})
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "x-1", f.RequestID)

	writeFrame(t, conn, FrameSubscribe, "x-2", SessionRequest{SessionID: "not-a-uuid"})
	f = readFrame(t, conn)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "INVALID_ARGUMENT", p.Code)

	writeFrame(t, conn, FrameSubscribe, "x-3", SessionRequest{SessionID: uuid.NewString()})
	f = readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "x-3", f.RequestID)
}

func TestWebSocket_UserSubscriptionAndDisconnectCleanup(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	srv := newTestServer(t, g)

	userID := uuid.New()
	conn := dialWS(t, srv.URL, userID)
	writeFrame(t, conn, FrameSubscribe, "all", SessionRequest{})
	ack := readFrame(t, conn)
	assert.Equal(t, FrameAck, ack.Type)

	g.Broadcast(events.ReasonStarted, runningSnapshot(userID, 1500000))
	f := readFrame(t, conn)
	assert.Equal(t, FrameState, f.Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return g.Clients() == 0 }, 2*time.Second, 10*time.Millisecond,
		"orphaned subscriptions are removed when the socket closes")
}
