package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/downlink/internal/capture"
	"github.com/banshee-data/downlink/internal/health"
	"github.com/banshee-data/downlink/internal/linklog"
	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/monitor"
	"github.com/banshee-data/downlink/internal/monitoring"
	"github.com/banshee-data/downlink/internal/runner"
	"github.com/banshee-data/downlink/internal/telemetry"
	"github.com/banshee-data/downlink/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	devMode     = flag.Bool("dev", false, "Run in dev mode: mock link and simulated vehicle")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// linkHealthyAge is how recently the link must have written to report SERVING.
const linkHealthyAge = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logCloser := monitoring.ConfigureLogFile(cfg.Paths.LogFile)
	defer logCloser.Close()
	log.Printf("starting %s", version.String())

	link, err := openLink(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to open %s link: %v", cfg.Transport.Type, err)
	}
	defer link.Close()

	var sink io.Writer = link
	if cfg.Paths.Capture != "" {
		cw, err := capture.Create(cfg.Paths.Capture)
		if err != nil {
			log.Fatalf("failed to create capture: %v", err)
		}
		defer cw.Close()
		sink = capture.Tee(link, cw)
	}

	codec, err := mavcodec.New(cfg.Identity.SystemID, cfg.Identity.ComponentID)
	if err != nil {
		log.Fatalf("failed to create codec: %v", err)
	}
	enc, err := telemetry.New(cfg.TelemetryConfig(), codec, sink)
	if err != nil {
		log.Fatalf("failed to create encoder: %v", err)
	}

	rcfg := runner.Config{
		TickInterval: cfg.Tick(),
		LinkStats:    link.Stats,
	}
	var db *linklog.DB
	if cfg.Paths.LinkLog != "" {
		db, err = linklog.Open(cfg.Paths.LinkLog)
		if err != nil {
			log.Fatalf("failed to open link log: %v", err)
		}
		defer db.Close()
		session, err := db.StartSession(time.Now(), cfg.Identity.SystemID, cfg.Identity.ComponentID,
			cfg.Transport.Type, version.Version)
		if err != nil {
			log.Fatalf("failed to start link log session: %v", err)
		}
		log.Printf("link log session %s", session)
		rcfg.Recorder = db
	}

	r := runner.New(enc, rcfg)
	if err := applyInitialRates(r, cfg.InitialRates()); err != nil {
		log.Fatalf("failed to apply initial rates: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor link: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// the runner owns the encoder; inbound control frames reach it through
	// the subscription
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := link.Subscribe()
		defer link.Unsubscribe(id)
		if err := r.Run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("runner stopped: %v", err)
		}
		log.Print("runner routine terminated")
	}()

	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cfg.Flight().Run(ctx, r.Update, nil, devStepInterval); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("sim stopped: %v", err)
			}
			log.Print("sim routine terminated")
		}()
	}

	if cfg.Listen.Health != "" {
		lis, err := net.Listen("tcp", cfg.Listen.Health)
		if err != nil {
			log.Fatalf("failed to listen for health checks: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := health.LinkCheck(link.Stats, linkHealthyAge, nil)
			if err := health.Serve(ctx, lis, check, health.DefaultPoll); err != nil {
				log.Printf("health server error: %v", err)
			}
			log.Print("health routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		link.AttachAdminRoutes(mux)
		monitor.New(r).AttachAdminRoutes(mux)
		if db != nil {
			db.AttachAdminRoutes(mux)
		}
		mux.Handle("/", http.RedirectHandler("/debug/", http.StatusFound))

		server := &http.Server{
			Addr:    cfg.Listen.Debug,
			Handler: mux,
		}

		go func() {
			log.Printf("debug server listening on %s", cfg.Listen.Debug)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
