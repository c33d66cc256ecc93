// Package capture records the downlink as a pcap file of UDP datagrams, one
// MAVLink frame per datagram, so it can be opened with Wireshark's MAVLink
// dissector or replayed by cmd/tools/pcap-decode.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// snapLen is larger than any MAVLink v2 frame plus headers.
const snapLen = 65536

// Endpoint is one side of the synthetic UDP flow.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Default endpoints use the standard ground station port so dissectors pick
// the flow up without configuration.
var (
	DefaultSource      = Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 14555}
	DefaultDestination = Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 14550}
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Writer is an io.Writer that appends every write to a pcap file as one
// Ethernet/IPv4/UDP packet.
type Writer struct {
	mu      sync.Mutex
	pw      *pcapgo.Writer
	closer  io.Closer
	src     Endpoint
	dst     Endpoint
	now     func() time.Time
	packets uint64
}

// NewWriter writes a pcap header to w and returns a Writer for it.
func NewWriter(w io.Writer, src, dst Endpoint) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{pw: pw, src: src, dst: dst, now: time.Now}, nil
}

// Create creates (truncating) a capture file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f, DefaultSource, DefaultDestination)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	log.Printf("Capturing downlink to %s", path)
	return w, nil
}

// Write records p as one UDP datagram.
func (w *Writer) Write(p []byte) (int, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    w.src.IP.To4(),
		DstIP:    w.dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(w.src.Port),
		DstPort: layers.UDPPort(w.dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return 0, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p)); err != nil {
		return 0, fmt.Errorf("failed to serialize packet: %w", err)
	}
	data := buf.Bytes()

	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.pw.WritePacket(ci, data); err != nil {
		return 0, fmt.Errorf("failed to write packet: %w", err)
	}
	w.packets++
	return len(p), nil
}

// Packets reports how many datagrams have been written.
func (w *Writer) Packets() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets
}

// Close closes the underlying file when the Writer was made by Create.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Tee returns a writer that sends every frame to link and records it to
// capture. The result reflects only the link write; capture failures are
// logged once so a full disk does not take the downlink with it.
func Tee(link, capture io.Writer) io.Writer {
	return &tee{link: link, capture: capture}
}

type tee struct {
	link    io.Writer
	capture io.Writer
	failed  bool
}

func (t *tee) Write(p []byte) (int, error) {
	n, err := t.link.Write(p)
	if _, cerr := t.capture.Write(p); cerr != nil && !t.failed {
		t.failed = true
		log.Printf("Downlink capture failed, further errors suppressed: %v", cerr)
	}
	return n, err
}

// Packet is one decoded datagram from a capture.
type Packet struct {
	Timestamp time.Time
	Src, Dst  Endpoint
	Payload   []byte
}

// ErrStop may be returned by a ReadPackets callback to end iteration early.
var ErrStop = errors.New("capture: stop")

// ReadPackets calls fn with every UDP datagram in a pcap stream. Non-UDP
// packets are skipped.
func ReadPackets(r io.Reader, fn func(Packet) error) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}
	for {
		data, ci, err := pr.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		p := Packet{
			Timestamp: ci.Timestamp,
			Src:       Endpoint{Port: int(udp.SrcPort)},
			Dst:       Endpoint{Port: int(udp.DstPort)},
			Payload:   udp.Payload,
		}
		if ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			p.Src.IP = ipLayer.SrcIP
			p.Dst.IP = ipLayer.DstIP
		}
		if err := fn(p); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ReadFile is ReadPackets over a file.
func ReadFile(path string, fn func(Packet) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	defer f.Close()
	return ReadPackets(f, fn)
}
