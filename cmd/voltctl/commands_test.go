package main

import (
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-volt/pkg/session"
	"github.com/teslashibe/go-volt/pkg/store"
	"github.com/teslashibe/go-volt/pkg/web"
)

func TestSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8000", "ws://localhost:8000", false},
		{"https://volt.example.com/", "wss://volt.example.com", false},
		{"ws://10.0.0.2:8000", "ws://10.0.0.2:8000", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := socketURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestHomeHint(t *testing.T) {
	v, err := homeHint("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = homeHint("false")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, *v)

	_, err = homeHint("maybe")
	assert.Error(t, err)
}

func TestAPIURL(t *testing.T) {
	serverURL = "http://localhost:8000/"
	assert.Equal(t, "http://localhost:8000/update?session=alice",
		apiURL("/update", url.Values{"session": {"alice"}}))
	assert.Equal(t, "http://localhost:8000/api/sessions/a%20b/state", sessionURL("a b", "/state"))
}

func TestCommandsAgainstServer(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Battery.TickInterval = time.Hour
	st := store.NewMemoryStore()
	mgr := session.NewManager(cfg, st, nil, nil)
	srv := web.NewServer(web.DefaultConfig(), mgr, nil, nil, "test")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		mgr.Shutdown()
		srv.Shutdown()
	})
	server := "http://" + ln.Addr().String()

	execute := func(args ...string) error {
		rootCmd.SetArgs(append([]string{"--server", server}, args...))
		return rootCmd.Execute()
	}

	require.NoError(t, execute("home", "alice", "--lat", "37.77", "--lon", "-122.41"))
	sess, err := mgr.Get("alice")
	require.NoError(t, err)
	home, ok := sess.Home()
	require.True(t, ok)
	assert.Equal(t, 37.77, home.Lat)

	require.NoError(t, execute("baseline", "alice", "70"))
	require.NoError(t, execute("update", "--session", "alice", "--home", "false", "--devices", "3"))
	require.NoError(t, execute("state", "alice"))
	require.NoError(t, execute("reset", "alice"))
	require.NoError(t, execute("sessions"))
	require.NoError(t, execute("close", "alice"))

	assert.Error(t, execute("state", "alice"))
	_, err = st.Load(t.Context(), "alice")
	require.NoError(t, err, "close keeps the profile")
	require.NoError(t, execute("close", "alice", "--purge"))
	_, err = st.Load(t.Context(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Error(t, execute("baseline", "alice", "abc"))
}
