package bluetooth

import (
	"fmt"
	"time"

	"github.com/paypal/gatt"
)

const (
	advFlagGeneralDiscoverable = 0x02
	advFlagLEOnly              = 0x04

	// advertising interval unit in the HCI LE Set Advertising Parameters command
	advIntervalUnit = 625 * time.Microsecond
	advIntervalMin  = 0x0020
	advIntervalMax  = 0x4000
)

// AdvertisingPayload builds legacy advertising data containing the flags,
// the service UUIDs and the device name. The name is shortened when the
// 31-byte limit is reached.
func AdvertisingPayload(name string, serviceUUIDs []string) ([]byte, error) {
	uu := make([]gatt.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := gatt.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid advertised uuid %q: %w", s, err)
		}
		uu = append(uu, u)
	}

	p := &gatt.AdvPacket{}
	p.AppendFlags(advFlagGeneralDiscoverable | advFlagLEOnly)
	if len(uu) > 0 && !p.AppendUUIDFit(uu) {
		return nil, fmt.Errorf("service uuids do not fit in the advertising packet")
	}
	if name != "" {
		p.AppendName(name)
	}
	return packetBytes(p), nil
}

// ScanResponsePayload carries the complete name for scanners that request it
func ScanResponsePayload(name string) []byte {
	p := &gatt.AdvPacket{}
	p.AppendName(name)
	return packetBytes(p)
}

// AdvertisingIntervalUnits converts d into 0.625 ms units, clamped to the
// range allowed by the controller
func AdvertisingIntervalUnits(d time.Duration) uint16 {
	if d <= 0 {
		d = DefaultAdvertisingInterval
	}
	n := int64(d / advIntervalUnit)
	if n < advIntervalMin {
		n = advIntervalMin
	}
	if n > advIntervalMax {
		n = advIntervalMax
	}
	return uint16(n)
}

func packetBytes(p *gatt.AdvPacket) []byte {
	b := p.Bytes()
	out := make([]byte, p.Len())
	copy(out, b[:p.Len()])
	return out
}
