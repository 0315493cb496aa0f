package bluetooth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Service UUID for the steering sensor
const (
	ServiceUUID = "347b0001-7635-408b-8918-8ff3949ce592"
)

// Characteristic UUIDs
const (
	CharOneUUID      = "347b0012-7635-408b-8918-8ff3949ce592"
	CharTwoUUID      = "347b0013-7635-408b-8918-8ff3949ce592"
	CharThreeUUID    = "347b0014-7635-408b-8918-8ff3949ce592"
	CharFourUUID     = "347b0019-7635-408b-8918-8ff3949ce592"
	SteeringCharUUID = "347b0030-7635-408b-8918-8ff3949ce592"
	RxCharUUID       = "347b0031-7635-408b-8918-8ff3949ce592"
	TxCharUUID       = "347b0032-7635-408b-8918-8ff3949ce592"
)

// namespaceSuffix is shared by every UUID of the service
const namespaceSuffix = "-7635-408b-8918-8ff3949ce592"

// NamespaceUUID returns the 128-bit UUID 347bXXXX-... for a short id
func NamespaceUUID(short uint16) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("347b%04x%s", short, namespaceSuffix))
}

// CharacteristicType identifies a logical characteristic of the service
type CharacteristicType int

const (
	CharOne CharacteristicType = iota
	CharTwo
	CharThree
	CharFour
	CharRx
	CharTx
	CharSteering
)

func (c CharacteristicType) String() string {
	switch c {
	case CharOne:
		return "Char1"
	case CharTwo:
		return "Char2"
	case CharThree:
		return "Char3"
	case CharFour:
		return "Char4"
	case CharRx:
		return "Rx"
	case CharTx:
		return "Tx"
	case CharSteering:
		return "Steering"
	default:
		return "Unknown"
	}
}

// AccessFlags is the set of GATT properties of a characteristic
type AccessFlags uint8

const (
	FlagRead AccessFlags = 1 << iota
	FlagWrite
	FlagNotify
	FlagIndicate
)

// Has reports whether all bits of f are set
func (a AccessFlags) Has(f AccessFlags) bool {
	return a&f == f
}

func (a AccessFlags) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	if a.Has(FlagRead) {
		parts = append(parts, "read")
	}
	if a.Has(FlagWrite) {
		parts = append(parts, "write")
	}
	if a.Has(FlagNotify) {
		parts = append(parts, "notify")
	}
	if a.Has(FlagIndicate) {
		parts = append(parts, "indicate")
	}
	return strings.Join(parts, "|")
}

// CharacteristicDescriptor describes one characteristic of the service
type CharacteristicDescriptor struct {
	Type  CharacteristicType
	UUID  string
	Flags AccessFlags
}

// ServiceDescriptor is the static definition of the primary service.
// It is built once at startup and passed to Transport.Register.
type ServiceDescriptor struct {
	UUID            string
	Characteristics []CharacteristicDescriptor
}

// DefaultDescriptor returns the steering service with its seven characteristics
func DefaultDescriptor() ServiceDescriptor {
	return ServiceDescriptor{
		UUID: ServiceUUID,
		Characteristics: []CharacteristicDescriptor{
			{Type: CharOne, UUID: CharOneUUID, Flags: FlagWrite},
			{Type: CharTwo, UUID: CharTwoUUID, Flags: FlagRead},
			{Type: CharThree, UUID: CharThreeUUID, Flags: FlagNotify},
			{Type: CharFour, UUID: CharFourUUID, Flags: FlagRead},
			{Type: CharRx, UUID: RxCharUUID, Flags: FlagWrite},
			{Type: CharTx, UUID: TxCharUUID, Flags: FlagRead | FlagIndicate},
			{Type: CharSteering, UUID: SteeringCharUUID, Flags: FlagRead | FlagNotify},
		},
	}
}

// Validate checks UUIDs and flags before the descriptor reaches a transport
func (d ServiceDescriptor) Validate() error {
	serviceUUID, err := uuid.Parse(d.UUID)
	if err != nil {
		return fmt.Errorf("invalid service uuid %q: %w", d.UUID, err)
	}
	if len(d.Characteristics) == 0 {
		return fmt.Errorf("service %s has no characteristics", d.UUID)
	}

	seenUUID := make(map[uuid.UUID]bool)
	seenType := make(map[CharacteristicType]bool)
	for _, c := range d.Characteristics {
		u, err := uuid.Parse(c.UUID)
		if err != nil {
			return fmt.Errorf("invalid uuid %q for %s: %w", c.UUID, c.Type, err)
		}
		if !sameNamespace(serviceUUID, u) {
			return fmt.Errorf("%s uuid %s is outside the service namespace", c.Type, c.UUID)
		}
		if u == serviceUUID {
			return fmt.Errorf("%s reuses the service uuid", c.Type)
		}
		if seenUUID[u] {
			return fmt.Errorf("duplicate characteristic uuid %s", c.UUID)
		}
		if seenType[c.Type] {
			return fmt.Errorf("duplicate characteristic %s", c.Type)
		}
		if c.Flags == 0 {
			return fmt.Errorf("%s has no access flags", c.Type)
		}
		seenUUID[u] = true
		seenType[c.Type] = true
	}
	return nil
}

// sameNamespace compares everything except bytes 2-3 (the short id)
func sameNamespace(a, b uuid.UUID) bool {
	return a[0] == b[0] && a[1] == b[1] && string(a[4:]) == string(b[4:])
}

// Handle is an opaque attribute handle assigned by a transport
type Handle uint16

// HandleSet maps logical characteristics to transport handles
type HandleSet struct {
	byType   map[CharacteristicType]Handle
	byHandle map[Handle]CharacteristicType
}

// NewHandleSet copies m into an immutable HandleSet
func NewHandleSet(m map[CharacteristicType]Handle) HandleSet {
	hs := HandleSet{
		byType:   make(map[CharacteristicType]Handle, len(m)),
		byHandle: make(map[Handle]CharacteristicType, len(m)),
	}
	for t, h := range m {
		hs.byType[t] = h
		hs.byHandle[h] = t
	}
	return hs
}

// Handle returns the handle of charType, or 0 if it was not registered
func (hs HandleSet) Handle(charType CharacteristicType) Handle {
	return hs.byType[charType]
}

// Lookup resolves a handle back to its characteristic
func (hs HandleSet) Lookup(h Handle) (CharacteristicType, bool) {
	t, ok := hs.byHandle[h]
	return t, ok
}

// Len returns the number of registered characteristics
func (hs HandleSet) Len() int {
	return len(hs.byType)
}

// ConnHandle identifies a connected central
type ConnHandle string
