package wire

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLineReaderTerminators verifies that CRLF and bare LF both end a line and
// that the terminator is stripped.
func TestLineReaderTerminators(t *testing.T) {
	lr := NewLineReader(bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: x\n\r\n")), 0)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "Host: x", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

// TestLineReaderPartialFinalLine verifies that an unterminated tail is returned
// once and then end of stream is reported.
func TestLineReaderPartialFinalLine(t *testing.T) {
	lr := NewLineReader(bufio.NewReader(strings.NewReader("tail")), 0)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "tail", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

// TestLineReaderDoesNotOverRead verifies that bytes after the terminator stay
// in the underlying reader.
func TestLineReaderDoesNotOverRead(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("line\r\nbody-bytes"))
	lr := NewLineReader(br, 0)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "line", line)

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "body-bytes", string(rest))
}

// TestLineReaderLongLines verifies that lines longer than the bufio buffer are
// assembled, and that the configured limit is enforced.
func TestLineReaderLongLines(t *testing.T) {
	long := strings.Repeat("a", 100)

	lr := NewLineReader(bufio.NewReaderSize(strings.NewReader(long+"\r\n"), 16), 0)
	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, long, line)

	lr = NewLineReader(bufio.NewReaderSize(strings.NewReader(long+"\r\n"), 16), 50)
	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

// TestLineReaderInvalidUTF8 verifies that invalid bytes are replaced rather
// than passed through.
func TestLineReaderInvalidUTF8(t *testing.T) {
	lr := NewLineReader(bufio.NewReader(strings.NewReader("a\xffb\n")), 0)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", line)
}
