// Package protocol implements the newline-delimited wire protocol spoken by
// chat clients: a single JOIN handshake frame followed by payload lines.
package protocol

import (
	"bytes"
	"errors"
	"io"
)

// MaxFrame bounds the length of a single frame, newline excluded. A client
// that sends this many bytes without a newline is terminated.
const MaxFrame = 20000

var (
	// ErrFrameTooLong reports a frame exceeding MaxFrame without a newline.
	ErrFrameTooLong = errors.New("protocol: frame exceeds maximum length")

	// ErrTruncatedFrame reports EOF arriving while a partial frame is pending.
	ErrTruncatedFrame = errors.New("protocol: connection closed mid-frame")
)

// FrameReader accumulates bytes from a connection and yields one frame per
// call, without the trailing newline. A single read from the underlying
// connection may carry zero, one, or several frames ("merged packets");
// bytes past a newline are retained for the next call.
//
// The returned slice aliases the reader's scratch buffer and is only valid
// until the next call to ReadFrame.
type FrameReader struct {
	r       io.Reader
	scratch []byte
	start   int   // first unconsumed byte
	end     int   // one past the last buffered byte
	err     error // deferred read error, surfaced once buffered frames drain
}

// NewFrameReader returns a FrameReader drawing from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:       r,
		scratch: make([]byte, MaxFrame+1),
	}
}

// ReadFrame returns the next newline-terminated frame, newline stripped. An
// empty slice is a valid empty frame. io.EOF is returned only on a clean
// close with no pending bytes.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		if i := bytes.IndexByte(fr.scratch[fr.start:fr.end], '\n'); i >= 0 {
			frame := fr.scratch[fr.start : fr.start+i]
			fr.start += i + 1
			return frame, nil
		}

		// No delimiter buffered; surface any error deferred from a read
		// that returned both data and an error.
		if fr.err != nil {
			if fr.err == io.EOF && fr.end > fr.start {
				return nil, ErrTruncatedFrame
			}
			return nil, fr.err
		}

		// Compact before refilling so a frame can occupy the full scratch.
		if fr.start > 0 {
			copy(fr.scratch, fr.scratch[fr.start:fr.end])
			fr.end -= fr.start
			fr.start = 0
		}

		if fr.end > MaxFrame {
			return nil, ErrFrameTooLong
		}

		n, err := fr.r.Read(fr.scratch[fr.end:])
		fr.end += n
		if err != nil {
			// Scan whatever arrived first; the error is reported once the
			// buffered bytes no longer hold a complete frame.
			fr.err = err
			continue
		}
		if n == 0 {
			return nil, io.ErrNoProgress
		}
	}
}
