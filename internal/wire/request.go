package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxBodyBytes is the largest Content-Length ParseRequest accepts
// unless overridden with WithMaxBodyBytes.
const DefaultMaxBodyBytes = 1 << 20

// DefaultMaxHeaderBytes bounds the whole header block, line terminators
// included, unless overridden with WithMaxHeaderBytes.
const DefaultMaxHeaderBytes = 64 << 10

var (
	// ErrMalformedRequest means the request line was empty, missing, or did not
	// carry both a method and a path. The connection should be closed without
	// a response.
	ErrMalformedRequest = errors.New("wire: malformed request")

	// ErrBodyTooLarge means the declared Content-Length exceeds the configured
	// maximum. Nothing of the body has been read.
	ErrBodyTooLarge = errors.New("wire: request body too large")

	// ErrHeaderTooLarge means the header block exceeded the configured
	// maximum. ParseRequest reports it wrapped in ErrMalformedRequest.
	ErrHeaderTooLarge = errors.New("wire: request headers too large")
)

// Headers maps lowercased header names to their values. Repeated headers are
// joined with ", ".
type Headers map[string]string

// Get returns the value for name, matched case-insensitively.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Request is a parsed HTTP request. It is not modified after ParseRequest
// returns.
type Request struct {
	Method        string
	Path          string
	Proto         string
	Headers       Headers
	ContentLength int
	Body          []byte

	// Truncated reports that the stream ended before ContentLength bytes
	// arrived. Body then holds whatever was read.
	Truncated bool
}

type parseConfig struct {
	maxLineBytes   int
	maxHeaderBytes int
	maxBodyBytes   int
}

// ParseOption customizes ParseRequest.
type ParseOption func(*parseConfig)

// WithMaxLineBytes bounds each request and header line.
func WithMaxLineBytes(n int) ParseOption {
	return func(c *parseConfig) {
		c.maxLineBytes = n
	}
}

// WithMaxHeaderBytes bounds the total size of the header block. Zero or less
// disables the check.
func WithMaxHeaderBytes(n int) ParseOption {
	return func(c *parseConfig) {
		c.maxHeaderBytes = n
	}
}

// WithMaxBodyBytes bounds the declared Content-Length. Zero or less disables
// the check.
func WithMaxBodyBytes(n int) ParseOption {
	return func(c *parseConfig) {
		c.maxBodyBytes = n
	}
}

// ParseRequest reads one request from r: the request line, the header block
// up to a blank line, and exactly Content-Length body bytes.
//
// Content-Length values that do not parse as a non-negative integer count as
// zero. A body cut short by end of stream is kept as-is and flagged with
// Request.Truncated instead of failing the parse.
func ParseRequest(r *bufio.Reader, opts ...ParseOption) (*Request, error) {
	cfg := parseConfig{
		maxLineBytes:   DefaultMaxLineBytes,
		maxHeaderBytes: DefaultMaxHeaderBytes,
		maxBodyBytes:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	lines := NewLineReader(r, cfg.maxLineBytes)

	requestLine, err := lines.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, ErrLineTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		return nil, err
	}

	req, ok := parseRequestLine(requestLine)
	if !ok {
		return nil, ErrMalformedRequest
	}

	if err := readHeaders(lines, req, cfg.maxHeaderBytes); err != nil {
		if errors.Is(err, ErrLineTooLong) || errors.Is(err, ErrHeaderTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		return nil, err
	}

	if cfg.maxBodyBytes > 0 && req.ContentLength > cfg.maxBodyBytes {
		return nil, fmt.Errorf("%w: %d bytes declared", ErrBodyTooLarge, req.ContentLength)
	}

	if err := readBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseRequestLine(line string) (*Request, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, false
	}

	req := &Request{
		Method:  fields[0],
		Path:    fields[1],
		Headers: make(Headers),
	}
	if len(fields) > 2 {
		req.Proto = fields[2]
	}
	return req, true
}

// readHeaders consumes header lines until a blank line or end of stream.
// Lines without a colon are skipped. Repeated headers are joined once the
// block is complete.
func readHeaders(lines *LineReader, req *Request, maxBytes int) error {
	values := make(map[string][]string)
	defer func() {
		for name, vs := range values {
			req.Headers[name] = strings.Join(vs, ", ")
		}
	}()

	total := 0
	for {
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}

		total += len(line) + 2
		if maxBytes > 0 && total > maxBytes {
			return fmt.Errorf("%w: more than %d bytes", ErrHeaderTooLarge, maxBytes)
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)

		values[name] = append(values[name], value)
		if name == "content-length" {
			req.ContentLength = parseContentLength(value)
		}
	}
}

func parseContentLength(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func readBody(r io.Reader, req *Request) error {
	if req.ContentLength == 0 {
		return nil
	}

	body := make([]byte, req.ContentLength)
	n, err := io.ReadFull(r, body)
	req.Body = body[:n]
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		req.Truncated = true
		return nil
	}
	return err
}
