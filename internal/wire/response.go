package wire

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

// DateFormat is the RFC 1123 layout used for the Date header.
const DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

type deadlineWriter interface {
	SetWriteDeadline(time.Time) error
}

// ResponseWriter serializes a single response onto a connection. Errors are
// sticky: after the first failed write every later call returns that error.
type ResponseWriter struct {
	conn         io.Writer
	w            *bufio.Writer
	writeTimeout time.Duration
	now          func() time.Time
	err          error
}

// ResponseOption customizes a ResponseWriter.
type ResponseOption func(*ResponseWriter)

// WithWriteTimeout applies a write deadline before each flush when the
// underlying writer supports SetWriteDeadline.
func WithWriteTimeout(d time.Duration) ResponseOption {
	return func(rw *ResponseWriter) {
		rw.writeTimeout = d
	}
}

// WithClock overrides the time source used for the Date header.
func WithClock(now func() time.Time) ResponseOption {
	return func(rw *ResponseWriter) {
		rw.now = now
	}
}

// NewResponseWriter returns a ResponseWriter writing to conn.
func NewResponseWriter(conn io.Writer, opts ...ResponseOption) *ResponseWriter {
	rw := &ResponseWriter{
		conn: conn,
		w:    bufio.NewWriter(conn),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// WriteStatus writes the status line.
func (rw *ResponseWriter) WriteStatus(code int, reason string) error {
	return rw.writeString("HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n")
}

// WriteHeader writes one header line.
func (rw *ResponseWriter) WriteHeader(name, value string) error {
	return rw.writeString(name + ": " + value + "\r\n")
}

// WriteBody ends the header block, writes body and flushes.
func (rw *ResponseWriter) WriteBody(body []byte) error {
	if err := rw.writeString("\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := rw.w.Write(body); err != nil {
			rw.err = err
			return err
		}
	}
	return rw.flush()
}

// WriteText emits a complete response with Date, Content-Type and
// Content-Length headers.
func (rw *ResponseWriter) WriteText(code int, reason, contentType string, body []byte) error {
	_ = rw.WriteStatus(code, reason)
	_ = rw.WriteHeader("Date", rw.Date())
	_ = rw.WriteHeader("Content-Type", contentType)
	_ = rw.WriteHeader("Content-Length", strconv.Itoa(len(body)))
	return rw.WriteBody(body)
}

// WriteNoContent emits a 204 response with a zero Content-Length.
func (rw *ResponseWriter) WriteNoContent() error {
	_ = rw.WriteStatus(204, "No Content")
	_ = rw.WriteHeader("Date", rw.Date())
	_ = rw.WriteHeader("Content-Length", "0")
	return rw.WriteBody(nil)
}

// BeginStream writes the headers of a text/event-stream response and returns
// a Stream for pushing events. The connection is left open; the caller owns
// its lifetime from here on.
func (rw *ResponseWriter) BeginStream() (*Stream, error) {
	_ = rw.WriteStatus(200, "OK")
	_ = rw.WriteHeader("Date", rw.Date())
	_ = rw.WriteHeader("Content-Type", "text/event-stream")
	_ = rw.WriteHeader("Cache-Control", "no-cache")
	_ = rw.WriteHeader("Connection", "keep-alive")
	if err := rw.WriteBody(nil); err != nil {
		return nil, err
	}
	return &Stream{
		conn:         rw.conn,
		w:            rw.w,
		writeTimeout: rw.writeTimeout,
	}, nil
}

// Date returns the current time from the writer's clock, formatted for the
// Date header.
func (rw *ResponseWriter) Date() string {
	return rw.now().UTC().Format(DateFormat)
}

func (rw *ResponseWriter) writeString(s string) error {
	if rw.err != nil {
		return rw.err
	}
	if _, err := rw.w.WriteString(s); err != nil {
		rw.err = err
	}
	return rw.err
}

func (rw *ResponseWriter) flush() error {
	if rw.err != nil {
		return rw.err
	}
	setWriteDeadline(rw.conn, rw.writeTimeout)
	if err := rw.w.Flush(); err != nil {
		rw.err = err
	}
	return rw.err
}

func setWriteDeadline(conn io.Writer, d time.Duration) {
	if d <= 0 {
		return
	}
	if dw, ok := conn.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(time.Now().Add(d))
	}
}

// Stream pushes server-sent events over an open response. It is safe for
// concurrent use.
type Stream struct {
	mu           sync.Mutex
	conn         io.Writer
	w            *bufio.Writer
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// WriteEvent writes one event whose data is payload. Each line of payload gets
// its own "data: " prefix and the event ends with a blank line.
func (s *Stream) WriteEvent(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		_, _ = s.w.WriteString("data: ")
		_, _ = s.w.Write(line)
		_ = s.w.WriteByte('\n')
	}
	_ = s.w.WriteByte('\n')
	return s.flush()
}

// WriteComment writes an SSE comment line, which clients ignore. It is used as
// a keep-alive.
func (s *Stream) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.w.WriteString(": " + text + "\n\n")
	return s.flush()
}

// WriteMessage writes payload as a single event.
func (s *Stream) WriteMessage(payload []byte) error {
	return s.WriteEvent(payload)
}

// Close closes the underlying connection if it is closable.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if c, ok := s.conn.(io.Closer); ok {
			s.closeErr = c.Close()
		}
	})
	return s.closeErr
}

func (s *Stream) flush() error {
	setWriteDeadline(s.conn, s.writeTimeout)
	return s.w.Flush()
}
