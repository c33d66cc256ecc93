package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/banshee-data/downlink/internal/config"
	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/network"
	"github.com/banshee-data/downlink/internal/runner"
	"github.com/banshee-data/downlink/internal/serialmux"
)

// devStepInterval is how often the simulated vehicle state is refreshed.
const devStepInterval = 20 * time.Millisecond

// Ground station identity used for the canned dev-mode request.
const (
	gcsSystemID    = 255
	gcsComponentID = 190
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openLink builds the transport named in the config. Dev mode always uses a
// mock serial link fed with a ground-station stream request.
func openLink(cfg *config.Config, dev bool) (serialmux.SerialMuxInterface, error) {
	if dev {
		inbound, err := devInbound(cfg)
		if err != nil {
			return nil, err
		}
		return serialmux.NewMockSerialMux(os.TempDir(), inbound)
	}

	switch cfg.Transport.Type {
	case config.TransportSerial:
		s := cfg.Transport.Serial
		log.Printf("opening serial link %s at %d baud", s.Port, s.BaudRate)
		return serialmux.OpenSerialMux(serialmux.NewRealSerialPortFactory(), s.Port, s.PortOptions)
	case config.TransportUDP:
		return network.OpenUDPLink(network.NewRealUDPSocketFactory(), cfg.LinkConfig())
	case config.TransportNone:
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidTransport, cfg.Transport.Type)
	}
}

// devInbound is the byte stream a ground station sends on connect in dev
// mode: a request for all streams at 2 Hz.
func devInbound(cfg *config.Config) ([]byte, error) {
	gcs, err := mavcodec.New(gcsSystemID, gcsComponentID)
	if err != nil {
		return nil, err
	}
	return gcs.Pack(&common.MessageRequestDataStream{
		TargetSystem:    cfg.Identity.SystemID,
		TargetComponent: cfg.Identity.ComponentID,
		ReqStreamId:     uint8(common.MAV_DATA_STREAM_ALL),
		ReqMessageRate:  2,
		StartStop:       1,
	})
}

func applyInitialRates(r *runner.Runner, rates []config.Rate) error {
	for _, rate := range rates {
		if _, err := r.SetRate(rate.Group, rate.Hz); err != nil {
			return err
		}
	}
	return nil
}
