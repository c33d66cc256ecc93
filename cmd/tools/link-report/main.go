// Command link-report lists link log sessions and renders their stream rate
// plots. With -live it reads the streams report from a running daemon.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/downlink/internal/httputil"
	"github.com/banshee-data/downlink/internal/linklog"
	"github.com/banshee-data/downlink/internal/monitor"
	"github.com/banshee-data/downlink/internal/security"
)

var (
	dbPath  = flag.String("db", "downlink.db", "Link log database")
	session = flag.String("session", "", "Session to plot; \"latest\" or an id. Empty lists sessions only")
	outDir  = flag.String("out", ".", "Directory for PNG plots")
	live    = flag.String("live", "", "Debug server of a running daemon, e.g. http://127.0.0.1:8080")
	setRate = flag.String("set", "", "With -live, change a rate first: group=hz")
)

func main() {
	flag.Parse()

	if *live != "" {
		client := monitor.NewClient(*live, httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second}))
		if *setRate != "" {
			group, hz, err := parseSetRate(*setRate)
			if err != nil {
				log.Fatalf("invalid -set: %v", err)
			}
			if err := client.SetRate(group, hz); err != nil {
				log.Fatalf("failed to set rate: %v", err)
			}
		}
		if err := printLive(os.Stdout, client); err != nil {
			log.Fatalf("failed to read live streams: %v", err)
		}
		return
	}

	db, err := linklog.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open link log: %v", err)
	}
	defer db.Close()

	sessions, err := listSessions(os.Stdout, db)
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	if *session == "" {
		return
	}

	id := *session
	if id == "latest" {
		if len(sessions) == 0 {
			log.Fatal("no sessions recorded")
		}
		id = sessions[0].ID
	}
	path, err := plotSession(db, id, *outDir)
	if err != nil {
		log.Fatalf("failed to plot session %s: %v", id, err)
	}
	fmt.Printf("wrote %s\n", path)
}

func listSessions(w io.Writer, db *linklog.DB) ([]linklog.Session, error) {
	sessions, err := db.Sessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		changes, err := db.PeriodChanges(sessions[i].ID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "%s  (%d rate changes)\n", sessions[i].String(), len(changes))
	}
	return sessions, nil
}

func plotSession(db *linklog.DB, id, dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("session-%s.png", security.SanitizeFilename(id)))
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := db.PlotSession(id, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func parseSetRate(s string) (string, uint16, error) {
	group, rate, ok := strings.Cut(s, "=")
	if !ok || group == "" {
		return "", 0, fmt.Errorf("want group=hz, got %q", s)
	}
	hz, err := strconv.ParseUint(rate, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return group, uint16(hz), nil
}

func printLive(w io.Writer, c *monitor.Client) error {
	rep, err := c.Streams()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "uptime %.1fs  %d messages  %s  %d heartbeats  %d encode errors  %d write errors\n",
		rep.UptimeS, rep.Messages, humanize.Bytes(rep.Bytes), rep.Heartbeats, rep.EncodeErrors, rep.WriteErrors)
	for _, s := range rep.Streams {
		if s.PeriodMs <= 0 && s.Fires == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-16s %6.2f Hz  %8d fires  interval %.1f±%.1f ms\n",
			s.Group, s.RateHz, s.Fires, s.IntervalMeanMs, s.IntervalStdDevMs)
	}
	return nil
}
