package serialmux

import (
	"fmt"
	"strings"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// MessageName returns the short type name of a decoded message, for example
// "RequestDataStream". Messages outside the dialect are reported by id.
func MessageName(msg message.Message) string {
	if raw, ok := msg.(*message.MessageRaw); ok {
		return fmt.Sprintf("Raw#%d", raw.ID)
	}
	name := fmt.Sprintf("%T", msg)
	if i := strings.LastIndex(name, ".Message"); i >= 0 {
		return name[i+len(".Message"):]
	}
	return name
}

// FormatFrame renders one inbound frame on a single line for the debug tail.
func FormatFrame(fr frame.Frame) string {
	msg := fr.GetMessage()
	return fmt.Sprintf("sys=%d comp=%d %s %+v", fr.GetSystemID(), fr.GetComponentID(), MessageName(msg), msg)
}
