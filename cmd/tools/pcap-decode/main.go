// Command pcap-decode prints the MAVLink messages in a downlink capture and a
// per-message summary.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/downlink/internal/capture"
	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/serialmux"
)

var (
	pcapFile = flag.String("pcap", "", "Capture file to decode (required)")
	asJSON   = flag.Bool("json", false, "Print the summary as JSON")
	quiet    = flag.Bool("quiet", false, "Only print the summary")
)

// Summary counts what a capture holds.
type Summary struct {
	Packets     int            `json:"packets"`
	Frames      int            `json:"frames"`
	Bytes       uint64         `json:"bytes"`
	ParseErrors int            `json:"parse_errors"`
	Messages    map[string]int `json:"messages"`
	First       time.Time      `json:"first"`
	Last        time.Time      `json:"last"`
}

// Duration is the time between the first and last packet.
func (s Summary) Duration() time.Duration { return s.Last.Sub(s.First) }

func decode(path string, out io.Writer, printFrames bool) (Summary, error) {
	sum := Summary{Messages: make(map[string]int)}
	err := capture.ReadFile(path, func(p capture.Packet) error {
		if sum.Packets == 0 {
			sum.First = p.Timestamp
		}
		sum.Last = p.Timestamp
		sum.Packets++
		sum.Bytes += uint64(len(p.Payload))

		rd, err := mavcodec.NewReader(bytes.NewReader(p.Payload))
		if err != nil {
			return err
		}
		for {
			fr, err := rd.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				sum.ParseErrors++
				if errors.Is(err, mavcodec.ErrParse) {
					continue
				}
				return nil
			}
			sum.Frames++
			sum.Messages[serialmux.MessageName(fr.GetMessage())]++
			if printFrames {
				fmt.Fprintf(out, "%s %s\n", p.Timestamp.Format("15:04:05.000"), serialmux.FormatFrame(fr))
			}
		}
	})
	return sum, err
}

func printSummary(out io.Writer, s Summary) {
	fmt.Fprintf(out, "%d packets, %d frames, %s in %s", s.Packets, s.Frames,
		humanize.Bytes(s.Bytes), s.Duration().Round(time.Millisecond))
	if s.ParseErrors > 0 {
		fmt.Fprintf(out, ", %d parse errors", s.ParseErrors)
	}
	fmt.Fprintln(out)

	names := make([]string, 0, len(s.Messages))
	for name := range s.Messages {
		names = append(names, name)
	}
	sort.Strings(names)
	secs := s.Duration().Seconds()
	for _, name := range names {
		n := s.Messages[name]
		if secs > 0 {
			fmt.Fprintf(out, "  %-24s %6d  %6.2f Hz\n", name, n, float64(n)/secs)
		} else {
			fmt.Fprintf(out, "  %-24s %6d\n", name, n)
		}
	}
}

func main() {
	flag.Parse()
	if *pcapFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	sum, err := decode(*pcapFile, os.Stdout, !*quiet && !*asJSON)
	if err != nil {
		log.Fatalf("failed to decode %s: %v", *pcapFile, err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			log.Fatalf("failed to encode summary: %v", err)
		}
		return
	}
	printSummary(os.Stdout, sum)
}
