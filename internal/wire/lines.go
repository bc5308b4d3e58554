package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineBytes bounds a single request line or header line.
const DefaultMaxLineBytes = 8 << 10

// ErrLineTooLong is returned when a line exceeds the reader's limit before a
// terminator is found.
var ErrLineTooLong = errors.New("wire: line too long")

// LineReader yields LF or CRLF terminated lines from a buffered stream.
// It never consumes bytes past the terminator, so the same bufio.Reader can be
// used afterwards to read a request body.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. A max of zero or less disables the length limit.
func NewLineReader(r *bufio.Reader, max int) *LineReader {
	return &LineReader{r: r, max: max}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// when the stream ends before any byte of a new line was read. A final line
// without a terminator is returned as-is and the following call reports io.EOF.
func (lr *LineReader) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		line = append(line, chunk...)
		if lr.max > 0 && len(trimEOL(line)) > lr.max {
			return "", ErrLineTooLong
		}

		switch {
		case err == nil:
			return decodeLine(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return "", io.EOF
			}
			return decodeLine(line), nil
		default:
			return "", err
		}
	}
}

func trimEOL(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func decodeLine(line []byte) string {
	return strings.ToValidUTF8(string(trimEOL(line)), "\uFFFD")
}
