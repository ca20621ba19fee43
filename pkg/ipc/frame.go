package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const prefixSize = 8

// DefaultMaxFrame bounds the payload allocation for a single frame.
const DefaultMaxFrame = 64 << 20

var (
	// ErrClosed indicates the peer closed the stream, possibly mid-frame.
	ErrClosed = errors.New("stream closed")
	// ErrFrameLength indicates a negative or oversized length prefix.
	ErrFrameLength = errors.New("invalid frame length")
)

// ReadFrame reads an 8-byte little-endian length prefix and exactly that
// many payload bytes. Any short read is reported as ErrClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, DefaultMaxFrame)
}

// WriteFrame writes payload to w behind its 8-byte length prefix in a single
// Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeFrame(w, payload)
}

// FrameReader reads frames from one inbound stream.
type FrameReader struct {
	r   io.Reader
	max int64
}

// NewFrameReader wraps r. max <= 0 selects DefaultMaxFrame.
func NewFrameReader(r io.Reader, max int64) *FrameReader {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &FrameReader{r: r, max: max}
}

// ReadFrame returns the next payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	return readFrame(fr.r, fr.max)
}

// FrameWriter owns an outbound stream and serializes whole frames, so a
// prefix is never separated from its payload by another writer.
type FrameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	scratch []byte
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one frame atomically with respect to other callers.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.scratch = appendFrame(fw.scratch[:0], payload)
	return writeAll(fw.w, fw.scratch)
}

func readFrame(r io.Reader, max int64) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, closedErr(err)
	}
	length := int64(binary.LittleEndian.Uint64(prefix[:]))
	if length < 0 || length > max {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, closedErr(err)
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	return writeAll(w, appendFrame(make([]byte, 0, prefixSize+len(payload)), payload))
}

func appendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(payload)))
	return append(dst, payload...)
}

func writeAll(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
