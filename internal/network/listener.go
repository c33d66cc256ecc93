package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/google/uuid"

	"github.com/banshee-data/downlink/internal/mavcodec"
)

const (
	// maxDatagram covers the largest MAVLink v2 frame with a signature, with
	// room for several frames packed into one datagram.
	maxDatagram = 2048

	readTimeout      = 100 * time.Millisecond
	subscriberBuffer = 16
)

// Listener reads datagrams from the ground station, decodes the MAVLink
// frames they carry and fans them out to subscribers.
type Listener struct {
	sock   UDPSocket
	onPeer func(*net.UDPAddr)

	subscribers  map[string]chan frame.Frame
	subscriberMu sync.Mutex
	closing      bool

	datagrams   atomic.Uint64
	framesIn    atomic.Uint64
	parseErrors atomic.Uint64
}

// NewListener creates a listener on sock. onPeer, if not nil, is called with
// the source address of every datagram.
func NewListener(sock UDPSocket, onPeer func(*net.UDPAddr)) *Listener {
	return &Listener{
		sock:        sock,
		onPeer:      onPeer,
		subscribers: make(map[string]chan frame.Frame),
	}
}

func (l *Listener) Subscribe() (string, chan frame.Frame) {
	id := uuid.NewString()
	ch := make(chan frame.Frame, subscriberBuffer)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if l.closing {
		close(ch)
		return id, ch
	}
	l.subscribers[id] = ch
	return id, ch
}

func (l *Listener) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// Run reads until ctx is cancelled or the socket is closed.
func (l *Listener) Run(ctx context.Context) error {
	buffer := make([]byte, maxDatagram)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		l.sock.SetReadDeadline(time.Now().Add(readTimeout))

		n, addr, err := l.sock.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("UDP read error: %v", err)
			continue
		}

		l.datagrams.Add(1)
		if l.onPeer != nil && addr != nil {
			l.onPeer(addr)
		}
		l.handleDatagram(buffer[:n])
	}
}

// handleDatagram decodes every frame in one datagram. A damaged frame is
// counted and the reader resynchronises on the next start marker.
func (l *Listener) handleDatagram(datagram []byte) {
	reader, err := mavcodec.NewReader(bytes.NewReader(datagram))
	if err != nil {
		log.Printf("Failed to create frame reader: %v", err)
		return
	}
	for {
		fr, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			l.parseErrors.Add(1)
			if errors.Is(err, mavcodec.ErrParse) {
				continue
			}
			return
		}
		l.framesIn.Add(1)
		l.publish(fr)
	}
}

func (l *Listener) publish(fr frame.Frame) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- fr:
		default:
			// if the channel is full/blocking skip so as not to block the reader
		}
	}
}

// closeSubscribers closes every subscriber channel; later subscribers get a
// closed channel.
func (l *Listener) closeSubscribers() {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.closing = true
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
}
