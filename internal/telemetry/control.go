package telemetry

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// HandleMessage applies an inbound control message and reports whether the
// period table changed. Only REQUEST_DATA_STREAM addressed to this encoder's
// system and component is acted on; everything else is ignored.
func (e *Encoder) HandleMessage(msg message.Message) bool {
	switch m := msg.(type) {
	case *common.MessageRequestDataStream:
		return e.handleRequestDataStream(m)
	}
	return false
}

func (e *Encoder) handleRequestDataStream(m *common.MessageRequestDataStream) bool {
	if m.TargetSystem != e.cfg.SystemID || m.TargetComponent != e.cfg.ComponentID {
		return false
	}
	g, ok := GroupForStream(m.ReqStreamId)
	if !ok {
		return false
	}
	if m.StartStop == 0 {
		e.period[g] = PeriodDisabled
		return true
	}
	// a start with no rate has nothing to schedule
	if m.ReqMessageRate == 0 {
		return false
	}
	e.period[g] = PeriodForRate(m.ReqMessageRate)
	return true
}
