package network

import (
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned by Write when the send queue has no room; the
	// frame is dropped.
	ErrQueueFull = errors.New("downlink queue full")
	// ErrNoPeer is returned by Write while no ground station address is known.
	ErrNoPeer = errors.New("no ground station address")
)

// DefaultQueueSize holds roughly one second of downlink at full rate.
const DefaultQueueSize = 256

// Forwarder handles asynchronous sending of downlink frames to the ground
// station. Write never blocks: frames are queued and sent from the goroutine
// started by Start.
type Forwarder struct {
	sock        UDPSocket
	remote      atomic.Pointer[net.UDPAddr]
	channel     chan []byte
	logInterval time.Duration
	closed      atomic.Bool

	bytesOut    atomic.Uint64
	writeErrors atomic.Uint64
	dropped     atomic.Uint64
	lastWrite   atomic.Int64
}

// NewForwarder creates a forwarder sending on sock. remote may be nil, in
// which case frames are rejected with ErrNoPeer until SetRemote is called.
func NewForwarder(sock UDPSocket, remote *net.UDPAddr, queueSize int, logInterval time.Duration) *Forwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	f := &Forwarder{
		sock:        sock,
		channel:     make(chan []byte, queueSize),
		logInterval: logInterval,
	}
	if remote != nil {
		f.remote.Store(remote)
	}
	return f
}

// SetRemote changes the destination for subsequent frames.
func (f *Forwarder) SetRemote(addr *net.UDPAddr) {
	f.remote.Store(addr)
}

// Remote returns the current destination, or nil.
func (f *Forwarder) Remote() *net.UDPAddr {
	return f.remote.Load()
}

// Start begins the sending goroutine. Send failures are counted and
// summarised in the log once per interval.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				if err := f.send(packet); err != nil {
					if errors.Is(err, net.ErrClosed) {
						return
					}
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				// Only log if we have dropped frames in this interval
				if droppedCount > 0 && lastError != nil {
					log.Printf("\033[93mDropped %d downlink frames due to errors (latest: %v)\033[0m", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	if remote := f.Remote(); remote != nil {
		log.Printf("Sending downlink to %s", remote)
	} else {
		log.Print("Sending downlink to the first ground station heard")
	}
}

func (f *Forwarder) send(packet []byte) error {
	remote := f.Remote()
	if remote == nil {
		f.writeErrors.Add(1)
		return ErrNoPeer
	}
	n, err := f.sock.WriteToUDP(packet, remote)
	if n > 0 {
		f.bytesOut.Add(uint64(n))
	}
	if err != nil {
		f.writeErrors.Add(1)
		return err
	}
	f.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// Write queues one frame. It copies p, so callers may reuse the buffer.
func (f *Forwarder) Write(p []byte) (int, error) {
	if f.closed.Load() {
		f.writeErrors.Add(1)
		return 0, net.ErrClosed
	}
	if f.Remote() == nil {
		f.writeErrors.Add(1)
		return 0, ErrNoPeer
	}

	packetCopy := make([]byte, len(p))
	copy(packetCopy, p)

	select {
	case f.channel <- packetCopy:
		return len(p), nil
	default:
		// Drop frame if the queue is full (prevents blocking the encoder)
		f.dropped.Add(1)
		f.writeErrors.Add(1)
		return 0, ErrQueueFull
	}
}

// Dropped reports frames rejected because the queue was full.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Pending reports frames queued but not yet sent.
func (f *Forwarder) Pending() int {
	return len(f.channel)
}

// Close stops accepting frames. The socket is owned by the caller.
func (f *Forwarder) Close() error {
	f.closed.Store(true)
	return nil
}
