// Serialmux provides an abstraction over a serial telemetry link: one writer
// for the downlink and any number of subscribers to the MAVLink frames that
// arrive on it.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/dustin/go-humanize"
	"tailscale.com/tsweb"

	"github.com/banshee-data/downlink/internal/mavcodec"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// subscriberBuffer lets a subscriber lag a few frames behind the reader before
// frames are dropped for it.
const subscriberBuffer = 16

// SerialMux is a generic serial port multiplexer. Writes go straight to the
// port; inbound bytes are decoded into MAVLink frames and fanned out to
// subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan frame.Frame
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	framesIn    atomic.Uint64
	parseErrors atomic.Uint64
	bytesOut    atomic.Uint64
	writeErrors atomic.Uint64
	lastWrite   atomic.Int64
}

// SerialMuxInterface is the surface shared by every telemetry link.
type SerialMuxInterface interface {
	// Write sends one encoded frame. Short writes report ErrWriteFailed.
	io.Writer
	// Subscribe creates a new channel for receiving inbound frames. The
	// channel ID is used to identify the unique channel when unsubscribing.
	Subscribe() (string, chan frame.Frame)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads frames from the link and sends them to the subscribers.
	Monitor(context.Context) error
	// Stats reports traffic counters.
	Stats() mavcodec.LinkStats
	// Close closes all subscribed channels and the underlying link.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan frame.Frame),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan frame.Frame) {
	id := randomID()
	ch := make(chan frame.Frame, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Write sends p to the port in a single call.
func (s *SerialMux[T]) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(p)
	if n > 0 {
		s.bytesOut.Add(uint64(n))
	}
	if err != nil {
		s.writeErrors.Add(1)
		return n, err
	}
	if n != len(p) {
		s.writeErrors.Add(1)
		return n, ErrWriteFailed
	}
	s.lastWrite.Store(time.Now().UnixNano())
	return n, nil
}

// Stats returns a snapshot of the link counters.
func (s *SerialMux[T]) Stats() mavcodec.LinkStats {
	st := mavcodec.LinkStats{
		FramesIn:    s.framesIn.Load(),
		ParseErrors: s.parseErrors.Load(),
		BytesOut:    s.bytesOut.Load(),
		WriteErrors: s.writeErrors.Load(),
	}
	if ns := s.lastWrite.Load(); ns != 0 {
		st.LastWrite = time.Unix(0, ns)
	}
	return st
}

// Monitor decodes frames from the serial port and sends them to subscribers.
// Corrupt frames are counted and skipped. It returns nil when the port reaches
// EOF or the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	reader, err := mavcodec.NewReader(s.port)
	if err != nil {
		return err
	}

	frameChan := make(chan frame.Frame)
	readErrChan := make(chan error, 1)

	// the blocking reader.Read will not interfere with our outer loop awaiting
	// frames & context cancellation.
	go func() {
		defer close(frameChan)
		for {
			fr, err := reader.Read()
			if err != nil {
				if errors.Is(err, mavcodec.ErrParse) {
					s.parseErrors.Add(1)
					continue
				}
				if !errors.Is(err, io.EOF) {
					readErrChan <- err
				}
				return
			}
			select {
			case frameChan <- fr:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fr, ok := <-frameChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if s.isClosing() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}
			s.framesIn.Add(1)

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- fr:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("link", "serial link counters", func(w http.ResponseWriter, r *http.Request) {
		WriteLinkStats(w, s.Stats())
	})

	// API endpoint to issue Server-Side Events (SSE) for frames arriving on the link.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		ServeTail(w, r, s)
	})
}

// Subscriber is any link that fans out inbound frames.
type Subscriber interface {
	Subscribe() (string, chan frame.Frame)
	Unsubscribe(string)
}

// WriteLinkStats renders link counters as plain text.
func WriteLinkStats(w http.ResponseWriter, st mavcodec.LinkStats) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "frames in:    %s\n", humanize.Comma(int64(st.FramesIn)))
	fmt.Fprintf(w, "parse errors: %s\n", humanize.Comma(int64(st.ParseErrors)))
	fmt.Fprintf(w, "bytes out:    %s\n", humanize.Bytes(st.BytesOut))
	fmt.Fprintf(w, "write errors: %s\n", humanize.Comma(int64(st.WriteErrors)))
	last := "never"
	if !st.LastWrite.IsZero() {
		last = humanize.Time(st.LastWrite)
	}
	fmt.Fprintf(w, "last write:   %s\n", last)
}

// ServeTail streams inbound frames from src to the client as server-sent
// events until the request ends or src closes the channel.
func ServeTail(w http.ResponseWriter, r *http.Request, src Subscriber) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := src.Subscribe()
	defer src.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case fr, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", FormatFrame(fr)); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
