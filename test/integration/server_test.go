package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apaul10-dot/Project-Alpha/internal/server"
	"github.com/apaul10-dot/Project-Alpha/test/testhelpers"
)

const testOriginURL = "http://localhost:3000"

// chat is a phone-facing server and a desktop bridge sharing one hub.
type chat struct {
	srv       *server.Server
	phoneAddr string
	bridge    *httptest.Server
	wsURL     string
}

func testConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.AdvertisedURL = "http://192.168.1.20:3000/"
	cfg.AssetsDir = ""
	cfg.AllowedOrigins = []string{testOriginURL}
	cfg.HeartbeatInterval = 0
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startChat starts both servers on loopback ports and stops them when the
// test ends.
func startChat(t *testing.T, customize func(cfg *server.Config)) *chat {
	t.Helper()

	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}

	srv, err := server.NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.Serve(ln)
	}()

	desktop := server.NewDesktopBridge(srv.Hub(), cfg, srv.Metrics(), zap.NewNop(),
		server.WithSessionState(srv.Profiles(), srv.Settings()))
	bridge := httptest.NewServer(desktop.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		bridge.Close()
	})

	return &chat{
		srv:       srv,
		phoneAddr: ln.Addr().String(),
		bridge:    bridge,
		wsURL:     "ws" + strings.TrimPrefix(bridge.URL, "http") + "/ws",
	}
}

func (c *chat) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.srv.Hub().Subscribers() == n
	}, 2*time.Second, 5*time.Millisecond)
}

func decode(t *testing.T, data string) map[string]string {
	t.Helper()
	var msg map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	return msg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// TestHealthEndpointIntegration tests the health endpoint on both servers.
func TestHealthEndpointIntegration(t *testing.T) {
	c := startChat(t, nil)

	resp := testhelpers.Get(t, c.phoneAddr, "/health")
	testhelpers.AssertStatusCode(t, resp, 200)
	testhelpers.AssertContentType(t, resp, "text/plain")
	assert.Equal(t, "ok", resp.Body)

	desktop, err := c.bridge.Client().Get(c.bridge.URL + "/health")
	require.NoError(t, err)
	defer desktop.Body.Close()
	assert.Equal(t, 200, desktop.StatusCode)
}

// TestFullServerIntegration tests the rendered pages served to phones.
// It verifies the chat page wires up the event stream and the connect page
// shows the advertised address.
func TestFullServerIntegration(t *testing.T) {
	c := startChat(t, nil)

	index := testhelpers.Get(t, c.phoneAddr, "/")
	testhelpers.AssertStatusCode(t, index, 200)
	testhelpers.AssertContentType(t, index, "text/html; charset=utf-8")
	assert.Contains(t, index.Body, "EventSource('/events')")

	connect := testhelpers.Get(t, c.phoneAddr, "/connect")
	testhelpers.AssertStatusCode(t, connect, 200)
	assert.Contains(t, connect.Body, "http://192.168.1.20:3000/")

	for _, route := range []string{"/profile", "/settings"} {
		testhelpers.AssertStatusCode(t, testhelpers.Get(t, c.phoneAddr, route), 200)
	}
}

// TestPhoneRoundTrip tests a phone posting a message and every phone stream
// receiving it.
func TestPhoneRoundTrip(t *testing.T) {
	c := startChat(t, nil)

	stream := testhelpers.OpenEventStream(t, c.phoneAddr)
	c.waitForSubscribers(t, 1)

	resp := testhelpers.PostForm(t, c.phoneAddr, "/send", "text=hello%20world&name=Ana")
	testhelpers.AssertStatusCode(t, resp, 204)

	assert.Equal(t, map[string]string{
		"sender": "phone",
		"text":   "hello world",
		"name":   "Ana",
	}, decode(t, stream.Next(t)))
}

// TestBlankMessagesAreIgnored tests that whitespace-only text is accepted but
// never broadcast.
func TestBlankMessagesAreIgnored(t *testing.T) {
	c := startChat(t, nil)

	stream := testhelpers.OpenEventStream(t, c.phoneAddr)
	c.waitForSubscribers(t, 1)

	testhelpers.AssertStatusCode(t, testhelpers.PostForm(t, c.phoneAddr, "/send", "text=+++"), 204)
	testhelpers.AssertStatusCode(t, testhelpers.PostForm(t, c.phoneAddr, "/send", "name=Ana"), 204)

	stream.ExpectNoEvent(t, 200*time.Millisecond)
	assert.Empty(t, c.srv.Hub().History())
}

// TestEventFrameFormat tests the exact bytes of a broadcast frame.
func TestEventFrameFormat(t *testing.T) {
	c := startChat(t, nil)

	stream := testhelpers.OpenEventStream(t, c.phoneAddr)
	c.waitForSubscribers(t, 1)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", stream.Header.Get("Cache-Control"))

	testhelpers.PostForm(t, c.phoneAddr, "/send", "text=%3Cb%3E%22hi%22")

	assert.Equal(t, "data: {\"sender\":\"phone\",\"text\":\"<b>\\\"hi\\\"\"}\n\n", stream.ReadRawFrame(t))
}
