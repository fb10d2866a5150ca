package nvidia

import (
	"fmt"
	"log/slog"
	"strings"
)

// Device is one GPU as seen during this run.
//
// UUID is stable across reboots and is the only safe key into the user's
// configuration. Index is assigned by the driver at enumeration time and must
// not be carried across runs.
type Device struct {
	UUID  string
	Index int
	Name  string
	// BusID is the X server style bus location (e.g. "1:0:0"). Only the
	// nvidia-xconfig pass reports it.
	BusID string
}

func (d Device) String() string {
	if d.BusID == "" {
		return fmt.Sprintf("GPU <name=%s uuid=%s index=GPU:%d>", d.Name, d.UUID, d.Index)
	}
	return fmt.Sprintf("GPU <name=%s uuid=%s index=GPU:%d slot=PCI:%s>", d.Name, d.UUID, d.Index, d.BusID)
}

// LogValue groups the identifying fields in structured logs.
func (d Device) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("uuid", d.UUID),
		slog.Int("index", d.Index),
		slog.String("name", d.Name),
	}
	if d.BusID != "" {
		attrs = append(attrs, slog.String("bus_id", d.BusID))
	}
	return slog.GroupValue(attrs...)
}

// same reports whether two enumeration passes describe the same card.
func (d Device) same(o Device) bool {
	return strings.EqualFold(d.UUID, o.UUID) && d.Index == o.Index
}
