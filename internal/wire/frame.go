package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame. Fernet tokens for any sane request
// are far below this; anything larger is a protocol violation.
const MaxFrameBytes = 1 << 20

var frameEnd = []byte("\r\n")

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameBytes before
// a CRLF terminator is seen.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ReadFrame reads one CRLF-terminated frame and returns it without the
// terminator. io.EOF on a clean close before any bytes of a new frame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		frame = append(frame, chunk...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if len(frame) > MaxFrameBytes {
				return nil, ErrFrameTooLarge
			}
			continue
		}
		if err == io.EOF && len(frame) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(frame) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	return bytes.TrimRight(frame, "\r\n"), nil
}

// WriteFrame writes one frame followed by CRLF. The payload is a Fernet
// token, so it is base64 and can never contain the terminator itself.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+2)
	buf = append(buf, payload...)
	buf = append(buf, frameEnd...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
