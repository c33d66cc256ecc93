// Package network carries the telemetry link over UDP: downlink frames are
// queued and sent to the ground station, and datagrams from it are decoded
// into MAVLink frames.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/dustin/go-humanize"
	"tailscale.com/tsweb"

	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/serialmux"
)

// LinkConfig contains configuration options for a UDP link.
type LinkConfig struct {
	// LocalAddr is the address to listen on, e.g. ":14550".
	LocalAddr string
	// RemoteAddr is the ground station address. When empty the link replies
	// to whichever address last sent it a datagram.
	RemoteAddr  string
	RcvBuf      int
	QueueSize   int
	LogInterval time.Duration
}

// UDPLink is a telemetry link over a single UDP socket. It has the same
// surface as serialmux.SerialMux.
type UDPLink struct {
	sock      UDPSocket
	forwarder *Forwarder
	listener  *Listener
	fixedPeer bool
}

var _ serialmux.SerialMuxInterface = (*UDPLink)(nil)

// OpenUDPLink resolves the configured addresses and opens the socket.
func OpenUDPLink(factory UDPSocketFactory, cfg LinkConfig) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	var raddr *net.UDPAddr
	if cfg.RemoteAddr != "" {
		raddr, err = net.ResolveUDPAddr("udp", cfg.RemoteAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ground station address: %w", err)
		}
	}

	sock, err := factory.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	log.Printf("UDP link listening on %s", sock.LocalAddr())

	return NewUDPLink(sock, raddr, cfg.QueueSize, cfg.LogInterval), nil
}

// NewUDPLink wraps an open socket. A nil remote enables peer discovery.
func NewUDPLink(sock UDPSocket, remote *net.UDPAddr, queueSize int, logInterval time.Duration) *UDPLink {
	link := &UDPLink{
		sock:      sock,
		forwarder: NewForwarder(sock, remote, queueSize, logInterval),
		fixedPeer: remote != nil,
	}
	link.listener = NewListener(sock, link.notePeer)
	return link
}

func (u *UDPLink) notePeer(addr *net.UDPAddr) {
	if u.fixedPeer {
		return
	}
	if cur := u.forwarder.Remote(); cur == nil || cur.String() != addr.String() {
		log.Printf("Ground station heard at %s", addr)
		u.forwarder.SetRemote(addr)
	}
}

// Write queues one frame for the ground station.
func (u *UDPLink) Write(p []byte) (int, error) { return u.forwarder.Write(p) }

func (u *UDPLink) Subscribe() (string, chan frame.Frame) { return u.listener.Subscribe() }

func (u *UDPLink) Unsubscribe(id string) { u.listener.Unsubscribe(id) }

// Monitor starts the sender and reads inbound datagrams until ctx is
// cancelled or the link is closed.
func (u *UDPLink) Monitor(ctx context.Context) error {
	u.forwarder.Start(ctx)
	return u.listener.Run(ctx)
}

// Stats merges sender and receiver counters.
func (u *UDPLink) Stats() mavcodec.LinkStats {
	st := mavcodec.LinkStats{
		FramesIn:    u.listener.framesIn.Load(),
		ParseErrors: u.listener.parseErrors.Load(),
		BytesOut:    u.forwarder.bytesOut.Load(),
		WriteErrors: u.forwarder.writeErrors.Load(),
	}
	if ns := u.forwarder.lastWrite.Load(); ns != 0 {
		st.LastWrite = time.Unix(0, ns)
	}
	return st
}

// Remote returns the ground station address in use, or nil.
func (u *UDPLink) Remote() *net.UDPAddr { return u.forwarder.Remote() }

func (u *UDPLink) Close() error {
	u.listener.closeSubscribers()
	u.forwarder.Close()
	return u.sock.Close()
}

func (u *UDPLink) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("link", "UDP link counters", func(w http.ResponseWriter, r *http.Request) {
		serialmux.WriteLinkStats(w, u.Stats())
		fmt.Fprintf(w, "datagrams in: %s\n", humanize.Comma(int64(u.listener.datagrams.Load())))
		fmt.Fprintf(w, "queue drops:  %s\n", humanize.Comma(int64(u.forwarder.Dropped())))
		fmt.Fprintf(w, "queued:       %d\n", u.forwarder.Pending())
		peer := "unknown"
		if remote := u.forwarder.Remote(); remote != nil {
			peer = remote.String()
		}
		fmt.Fprintf(w, "peer:         %s\n", peer)
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		serialmux.ServeTail(w, r, u)
	})
}
