// Package mavcodec frames and parses MAVLink v2 messages of the common dialect.
package mavcodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// ErrParse marks a recoverable decode failure: a bad checksum, an unknown
// message or a truncated frame. Readers can skip it and carry on.
var ErrParse = errors.New("mavlink parse error")

// ErrNoFrame is returned by Unpack when the buffer holds no complete frame.
var ErrNoFrame = errors.New("no mavlink frame in buffer")

// LinkStats summarises traffic on one MAVLink byte link.
type LinkStats struct {
	FramesIn    uint64
	ParseErrors uint64
	BytesOut    uint64
	WriteErrors uint64
	LastWrite   time.Time
}

// Codec packs outbound messages with a fixed identity and unpacks inbound
// datagrams. The outbound sequence number is owned by the codec, so a Codec
// must not be shared between goroutines without external locking.
type Codec struct {
	rw  *dialect.ReadWriter
	out bytes.Buffer
	w   *frame.Writer
}

func newDialectRW() (*dialect.ReadWriter, error) {
	rw := &dialect.ReadWriter{Dialect: common.Dialect}
	if err := rw.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialise common dialect: %w", err)
	}
	return rw, nil
}

// New creates a codec that stamps outbound frames with the given system and
// component ids.
func New(systemID, componentID uint8) (*Codec, error) {
	if systemID == 0 {
		return nil, fmt.Errorf("system id must be between 1 and 255")
	}
	rw, err := newDialectRW()
	if err != nil {
		return nil, err
	}

	c := &Codec{rw: rw}
	c.w = &frame.Writer{
		ByteWriter:     &c.out,
		DialectRW:      rw,
		OutVersion:     frame.V2,
		OutSystemID:    systemID,
		OutComponentID: componentID,
	}
	if err := c.w.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialise frame writer: %w", err)
	}
	return c, nil
}

// Pack encodes one message into a complete MAVLink v2 frame. The returned
// slice is owned by the caller.
func (c *Codec) Pack(msg message.Message) ([]byte, error) {
	c.out.Reset()
	if err := c.w.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to pack message %d: %w", msg.GetID(), err)
	}
	return bytes.Clone(c.out.Bytes()), nil
}

// Unpack decodes the first frame found in raw.
func (c *Codec) Unpack(raw []byte) (frame.Frame, error) {
	r, err := newFrameReader(bytes.NewReader(raw), c.rw)
	if err != nil {
		return nil, err
	}
	fr, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFrame
		}
		return nil, err
	}
	return fr, nil
}

// Reader streams frames off a byte link.
type Reader struct {
	r *frame.Reader
}

// NewReader wraps a byte stream such as a serial port or a single datagram.
func NewReader(rd io.Reader) (*Reader, error) {
	rw, err := newDialectRW()
	if err != nil {
		return nil, err
	}
	fr, err := newFrameReader(rd, rw)
	if err != nil {
		return nil, err
	}
	return &Reader{r: fr}, nil
}

func newFrameReader(rd io.Reader, rw *dialect.ReadWriter) (*frame.Reader, error) {
	r := &frame.Reader{
		ByteReader: rd,
		DialectRW:  rw,
	}
	if err := r.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialise frame reader: %w", err)
	}
	return r, nil
}

// Read returns the next frame. Recoverable decode failures are wrapped with
// ErrParse; any other error comes from the underlying reader and ends the
// stream.
func (r *Reader) Read() (frame.Frame, error) {
	fr, err := r.r.Read()
	if err != nil {
		var readErr frame.ReadError
		if errors.As(err, &readErr) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return nil, err
	}
	return fr, nil
}
