// Package testhelpers provides helpers for talking to the chat server in
// tests: raw HTTP/1.1 over TCP, server-sent event streams and the desktop
// websocket.
package testhelpers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Timeout bounds every network operation in these helpers.
const Timeout = 5 * time.Second

// Response is a parsed HTTP response with its body read.
type Response struct {
	*http.Response
	Body string
}

// Dial opens a TCP connection to addr that is closed when the test ends.
func Dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, Timeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(Timeout))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendRaw writes raw to a new connection and returns everything the server
// sends back before closing it.
func SendRaw(t *testing.T, addr, raw string) string {
	t.Helper()

	conn := Dial(t, addr)
	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return string(out)
}

// Do sends a request with an optional form body and returns the response.
func Do(t *testing.T, addr, method, path, body string) *Response {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: %s\r\n", method, path, addr)
	if body != "" {
		fmt.Fprintf(&b, "Content-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	conn := Dial(t, addr)
	if _, err := io.WriteString(conn, b.String()); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	req, _ := http.NewRequest(method, "http://"+addr+path, http.NoBody)
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return &Response{Response: resp, Body: string(data)}
}

// PostForm posts body as application/x-www-form-urlencoded.
func PostForm(t *testing.T, addr, path, body string) *Response {
	t.Helper()
	return Do(t, addr, "POST", path, body)
}

// Get fetches path.
func Get(t *testing.T, addr, path string) *Response {
	t.Helper()
	return Do(t, addr, "GET", path, "")
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// EventStream is an open GET /events connection.
type EventStream struct {
	Conn   net.Conn
	Header http.Header
	reader *bufio.Reader
}

// OpenEventStream requests /events and reads the response headers.
func OpenEventStream(t *testing.T, addr string) *EventStream {
	t.Helper()

	conn := Dial(t, addr)
	_ = conn.SetDeadline(time.Time{})
	if _, err := fmt.Fprintf(conn, "GET /events HTTP/1.1\r\nHost: %s\r\nAccept: text/event-stream\r\n\r\n", addr); err != nil {
		t.Fatalf("Failed to request event stream: %v", err)
	}

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(Timeout))
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read status line: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		t.Fatalf("Unexpected status line %q", status)
	}

	header := http.Header{}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read headers: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, _ := strings.Cut(line, ":")
		header.Add(name, strings.TrimSpace(value))
	}

	return &EventStream{Conn: conn, Header: header, reader: reader}
}

// Next returns the data of the next event, skipping comments. It fails the
// test if none arrives within Timeout.
func (s *EventStream) Next(t *testing.T) string {
	t.Helper()

	data, err := s.ReadEvent(Timeout)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return data
}

// ReadEvent returns the data of the next event within timeout.
func (s *EventStream) ReadEvent(timeout time.Duration) (string, error) {
	_ = s.Conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = s.Conn.SetReadDeadline(time.Time{}) }()

	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "":
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

// ReadRawFrame reads raw bytes up to and including the next blank line.
func (s *EventStream) ReadRawFrame(t *testing.T) string {
	t.Helper()

	_ = s.Conn.SetReadDeadline(time.Now().Add(Timeout))
	defer func() { _ = s.Conn.SetReadDeadline(time.Time{}) }()

	var b strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		b.WriteString(line)
		if line == "\n" {
			return b.String()
		}
	}
}

// ExpectNoEvent fails the test if an event arrives within wait.
func (s *EventStream) ExpectNoEvent(t *testing.T, wait time.Duration) {
	t.Helper()

	data, err := s.ReadEvent(wait)
	if err == nil {
		t.Fatalf("Unexpected event %q", data)
	}
}

// ExpectClosed fails the test unless the server closes the stream within Timeout.
func (s *EventStream) ExpectClosed(t *testing.T) {
	t.Helper()

	_ = s.Conn.SetReadDeadline(time.Now().Add(Timeout))
	_, err := io.Copy(io.Discard, s.reader)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("Event stream was not closed by the server")
	}
}

// Close closes the client side of the stream.
func (s *EventStream) Close() {
	_ = s.Conn.Close()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: Timeout,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendDesktopMessage sends a desktop chat message over the WebSocket connection.
func SendDesktopMessage(conn *websocket.Conn, text, name string) error {
	message := map[string]string{"text": text}
	if name != "" {
		message["name"] = name
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadWebSocketMessage reads one text frame, failing the test after Timeout.
func ReadWebSocketMessage(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(Timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read websocket message: %v", err)
	}

	var msg map[string]string
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Invalid message %q: %v", data, err)
	}
	return msg
}
