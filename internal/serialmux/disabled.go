package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"

	"github.com/banshee-data/downlink/internal/mavcodec"
)

// DisabledSerialMux is a no-op link used for transport "none". Writes are
// discarded as if they succeeded so the encoder can still run, and subscriber
// channels are tracked so they close deterministically on Unsubscribe or
// Close, letting readers unblock during shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan frame.Frame
	closing     bool
	bytesOut    uint64
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan frame.Frame),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan frame.Frame) {
	id := randomID()
	ch := make(chan frame.Frame)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.bytesOut += uint64(len(p))
	d.mu.Unlock()
	return len(p), nil
}

func (d *DisabledSerialMux) Stats() mavcodec.LinkStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return mavcodec.LinkStats{BytesOut: d.bytesOut}
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/link-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("telemetry link disabled"))
	})
}
