package integration

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apaul10-dot/Project-Alpha/internal/server"
	"github.com/apaul10-dot/Project-Alpha/test/testhelpers"
)

// TestAssetPathTraversal tests that /assets/ only serves files inside the
// assets directory.
func TestAssetPathTraversal(t *testing.T) {
	root := t.TempDir()
	assets := filepath.Join(root, "assets")
	require.NoError(t, os.Mkdir(assets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "avatar.jpg"), []byte{0xff, 0xd8}, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("top secret"), 0o600))

	c := startChat(t, func(cfg *server.Config) {
		cfg.AssetsDir = assets
	})

	ok := testhelpers.Get(t, c.phoneAddr, "/assets/avatar.jpg")
	testhelpers.AssertStatusCode(t, ok, 200)
	testhelpers.AssertContentType(t, ok, "image/jpeg")

	for _, path := range []string{
		"/assets/../secret.txt",
		"/assets/%2e%2e/secret.txt",
		"/assets//secret.txt",
		"/assets/",
		"/assets/missing.png",
	} {
		t.Run(path, func(t *testing.T) {
			resp := testhelpers.Get(t, c.phoneAddr, path)
			testhelpers.AssertStatusCode(t, resp, 404)
			assert.Equal(t, "Not Found", resp.Body)
		})
	}
}

// TestNotFoundDoesNotLeakDetails tests that 404 bodies are always the same.
func TestNotFoundDoesNotLeakDetails(t *testing.T) {
	c := startChat(t, nil)

	for _, path := range []string{"/..%2f..%2fetc/passwd", "/%00", "/" + strings.Repeat("a", 2048)} {
		resp := testhelpers.Get(t, c.phoneAddr, path)
		testhelpers.AssertStatusCode(t, resp, 404)
		assert.Equal(t, "Not Found", resp.Body)
	}
}

// TestOversizedRequests tests limits on declared bodies and header lines.
func TestOversizedRequests(t *testing.T) {
	c := startChat(t, func(cfg *server.Config) {
		cfg.MaxBodyBytes = 1024
	})

	resp := testhelpers.PostForm(t, c.phoneAddr, "/send", "text="+strings.Repeat("a", 1500))
	testhelpers.AssertStatusCode(t, resp, 413)
	assert.Empty(t, c.srv.Hub().History())

	// The server hangs up mid-request, so a reset is as good as EOF here.
	conn := testhelpers.Dial(t, c.phoneAddr)
	_, _ = io.WriteString(conn, "GET /health HTTP/1.1\r\nX-Filler: "+strings.Repeat("b", 16<<10)+"\r\n\r\n")
	out, _ := io.ReadAll(conn)
	assert.NotContains(t, string(out), "HTTP/1.1")

	testhelpers.AssertStatusCode(t, testhelpers.Get(t, c.phoneAddr, "/health"), 200)
}

// TestMalformedRequestsGetNoResponse tests that unparseable requests are
// dropped without an answer and do not disturb the server.
func TestMalformedRequestsGetNoResponse(t *testing.T) {
	c := startChat(t, nil)

	for _, raw := range []string{"GARBAGE\r\n\r\n", "\r\n\r\n"} {
		assert.Empty(t, testhelpers.SendRaw(t, c.phoneAddr, raw))
	}
	assert.Equal(t, int64(2), c.srv.Metrics().Count("requests.malformed"))

	testhelpers.AssertStatusCode(t, testhelpers.Get(t, c.phoneAddr, "/health"), 200)
}
