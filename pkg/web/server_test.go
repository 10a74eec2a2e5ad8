package web

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/protocol"
	"github.com/teslashibe/go-volt/pkg/session"
	"github.com/teslashibe/go-volt/pkg/store"
)

type testEnv struct {
	server   *Server
	sessions *session.Manager
	store    *store.MemoryStore
}

// newTestEnv builds a server whose sessions never tick on their own.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Battery.TickInterval = time.Hour
	cfg.ReadingsPerSecond = 0
	return newTestEnvConfig(t, cfg)
}

func newTestEnvConfig(t *testing.T, cfg session.Config) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	m := metrics.New()
	mgr := session.NewManager(cfg, st, m, nil)
	t.Cleanup(mgr.Shutdown)

	return &testEnv{
		server:   NewServer(DefaultConfig(), mgr, m, nil, "test"),
		sessions: mgr,
		store:    st,
	}
}

// listen serves the app on a random local port and returns its address.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go e.server.Serve(ln)
	t.Cleanup(func() { e.server.Shutdown() })
	return ln.Addr().String()
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readState(t *testing.T, ws *websocket.Conn) protocol.EnergyState {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	st, err := protocol.ParseState(data)
	require.NoError(t, err)
	return st
}

func sendReading(t *testing.T, ws *websocket.Conn, r protocol.SensorReading) {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/health", "")
	assert.Equal(t, 200, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, "test", result["version"])
	assert.Equal(t, float64(0), result["sessions"])
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/update?session=alice", `{"is_home": false, "device_count": 5, "hrv": 30}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var out protocol.UpdateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 100.0, out.Level)
	assert.Equal(t, 2.0, out.Multiplier)

	sess, err := env.sessions.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 96.0, sess.Tick().CurrentLevel)
}

func TestUpdate_DefaultSessionAndNullHRV(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/update", `{"is_home": true, "device_count": 0, "hrv": null}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var out protocol.UpdateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1.0, out.Multiplier)

	_, err := env.sessions.Get(session.DefaultID)
	assert.NoError(t, err)
}

func TestUpdate_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/update", `{not json`)
	assert.Equal(t, 400, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/update", `[1, 2]`)
	assert.Equal(t, 400, resp.StatusCode)

	resp, body := env.do(t, "POST", "/update?session=bad%20id", `{"is_home": true, "device_count": 0}`)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, string(body), "invalid session id")
}

func TestUpdate_MalformedFieldDropped(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/update?session=alice", `{"is_home": false, "device_count": 5.0, "hrv": "n/a"}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var out protocol.UpdateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1.0, out.Multiplier)

	sess, err := env.sessions.Get("alice")
	require.NoError(t, err)
	st := sess.Tick()
	assert.False(t, st.IsHome)
	assert.Equal(t, 98.0, st.CurrentLevel)
}

func TestUpdate_RateLimited(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Battery.TickInterval = time.Hour
	cfg.ReadingsPerSecond = 0.001
	cfg.ReadingsBurst = 1
	env := newTestEnvConfig(t, cfg)

	resp, _ := env.do(t, "POST", "/update?session=alice", `{"device_count": 1}`)
	assert.Equal(t, 200, resp.StatusCode)
	resp, body := env.do(t, "POST", "/update?session=alice", `{"device_count": 2}`)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Contains(t, string(body), "rate limited")
}

func TestState(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/api/sessions/alice/state", "")
	assert.Equal(t, 404, resp.StatusCode)

	_, err := env.sessions.Open("alice")
	require.NoError(t, err)

	resp, body := env.do(t, "GET", "/api/sessions/alice/state", "")
	require.Equal(t, 200, resp.StatusCode)
	st, err := protocol.ParseState(body)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.CurrentLevel)
	assert.Equal(t, protocol.StatusIdle, st.Status)
}

func TestSetHome(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "PUT", "/api/sessions/alice/home", `{"latitude": 37.77, "longitude": -122.41, "radius_meters": 150}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	st, err := protocol.ParseState(body)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.CurrentLevel)

	p, err := env.store.Load(t.Context(), "alice")
	require.NoError(t, err)
	require.NotNil(t, p.Home)
	assert.Equal(t, 150.0, p.Home.RadiusMeters)
}

func TestSetHome_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []string{
		`{"latitude": 91, "longitude": 0}`,
		`{"latitude": 0, "longitude": 181}`,
		`{"latitude": 0, "longitude": 0, "radius_meters": -1}`,
		`[]`,
	}
	for _, body := range tests {
		resp, _ := env.do(t, "PUT", "/api/sessions/alice/home", body)
		assert.Equal(t, 400, resp.StatusCode, body)
	}
}

func TestSetBaseline(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "PUT", "/api/sessions/alice/baseline", `{"baseline_hrv": 0}`)
	assert.Equal(t, 400, resp.StatusCode)

	resp, body := env.do(t, "PUT", "/api/sessions/alice/baseline", `{"baseline_hrv": 90}`)
	require.Equal(t, 200, resp.StatusCode, string(body))

	p, err := env.store.Load(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.BaselineHRV)
}

func TestResetAndClose(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/api/sessions/alice/reset", "")
	assert.Equal(t, 404, resp.StatusCode)

	sess, err := env.sessions.Open("alice")
	require.NoError(t, err)
	sess.Update(protocol.SensorReading{NearbyDeviceCount: 10, IsHome: protocol.Bool(false)})
	sess.Tick()

	resp, body := env.do(t, "POST", "/api/sessions/alice/reset", "")
	require.Equal(t, 200, resp.StatusCode)
	st, err := protocol.ParseState(body)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.CurrentLevel)

	resp, _ = env.do(t, "DELETE", "/api/sessions/alice", "")
	assert.Equal(t, 200, resp.StatusCode)
	resp, _ = env.do(t, "DELETE", "/api/sessions/alice", "")
	assert.Equal(t, 404, resp.StatusCode)
}

func TestClose_Purge(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "PUT", "/api/sessions/alice/home", `{"latitude": 37.77, "longitude": -122.41}`)
	require.Equal(t, 200, resp.StatusCode, string(body))
	_, err := env.store.Load(t.Context(), "alice")
	require.NoError(t, err)

	// A plain close keeps the profile
	resp, _ = env.do(t, "DELETE", "/api/sessions/alice", "")
	require.Equal(t, 200, resp.StatusCode)
	_, err = env.store.Load(t.Context(), "alice")
	require.NoError(t, err)

	resp, body = env.do(t, "DELETE", "/api/sessions/alice?purge=true", "")
	require.Equal(t, 200, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "purged alice")
	_, err = env.store.Load(t.Context(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	resp, _ = env.do(t, "DELETE", "/api/sessions/bad%20id?purge=true", "")
	assert.Equal(t, 400, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Open("bob")
	env.sessions.Open("alice")

	resp, body := env.do(t, "GET", "/api/sessions/", "")
	require.Equal(t, 200, resp.StatusCode)

	var out struct {
		Sessions []session.Info `json:"sessions"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, "alice", out.Sessions[0].ID)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Open("alice")

	resp, body := env.do(t, "GET", "/metrics", "")
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "volt_sessions 1")
	assert.Contains(t, string(body), `volt_energy_level{session="alice"} 100`)
}

func TestSocket_RequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/ws/alice", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSocket_InvalidSession(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/bad.id", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestSocket_SnapshotOnConnectAndTick(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)

	ws := dial(t, addr, "/ws")
	st := readState(t, ws)
	assert.Equal(t, 100.0, st.CurrentLevel)
	assert.True(t, st.IsHome)
	assert.Equal(t, protocol.StatusIdle, st.Status)

	sendReading(t, ws, protocol.NewLocationReading(0, 0, 10).WithHomeHint(false))

	sess, err := env.sessions.Get(session.DefaultID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.Tick().CurrentLevel < 100
	}, 2*time.Second, 20*time.Millisecond)

	// Skip the at-home ticks that ran before the reading landed
	last := readState(t, ws)
	for last.CurrentLevel == 100 {
		last = readState(t, ws)
	}
	assert.Equal(t, 97.0, last.CurrentLevel)
	assert.Equal(t, protocol.StatusDraining, last.Status)
	assert.False(t, last.IsHome)
}

func TestSocket_MalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)

	ws := dial(t, addr, "/ws/alice")
	readState(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"latitude": "north"}`)))

	sess, _ := env.sessions.Get("alice")
	sess.Tick()
	st := readState(t, ws)
	assert.Equal(t, 100.0, st.CurrentLevel)
}

func TestSocket_FanOut(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)

	a := dial(t, addr, "/ws/shared")
	b := dial(t, addr, "/ws/shared")
	readState(t, a)
	readState(t, b)

	resp, _ := env.do(t, "PUT", "/api/sessions/shared/home", `{"latitude": 1, "longitude": 1}`)
	require.Equal(t, 200, resp.StatusCode)

	assert.Equal(t, readState(t, a), readState(t, b))
}

// A client that drops and reconnects sees the state the server kept
// advancing while it was gone.
func TestSocket_ReconnectResumesSession(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)

	ws := dial(t, addr, "/ws/commuter")
	readState(t, ws)
	sendReading(t, ws, protocol.SensorReading{NearbyDeviceCount: 0, IsHome: protocol.Bool(false)})

	sess, err := env.sessions.Get("commuter")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.Tick().CurrentLevel < 100
	}, 2*time.Second, 20*time.Millisecond)

	level := sess.Snapshot().CurrentLevel
	require.Less(t, level, 100.0)

	ws.Close()
	require.Eventually(t, func() bool { return sess.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		sess.Tick()
	}

	again := dial(t, addr, "/ws/commuter")
	st := readState(t, again)
	assert.Equal(t, level-5, st.CurrentLevel)
	assert.Equal(t, protocol.StatusDraining, st.Status)
	assert.Equal(t, 1, env.sessions.Count())
}
