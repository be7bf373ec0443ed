// Package wfp decodes the Windows Filtering Platform net-event stream.
//
// The package is split into a portable core (negotiation, decode, caches,
// session lifecycle) and Windows-only native bindings. The native layer
// produces RawEvent values; everything downstream of that is testable on any
// platform with fakes.
package wfp

import (
	"fmt"
	"net/netip"
	"time"
)

// Level selects one of the incompatible revisions of the net-event
// subscription contract. Higher levels carry strictly more information.
type Level int

const (
	LevelMin     Level = 0
	LevelMax     Level = 4
	DefaultLevel Level = 3
)

// Valid reports whether l is inside the supported range.
func (l Level) Valid() bool { return l >= LevelMin && l <= LevelMax }

func (l Level) String() string { return fmt.Sprintf("level %d", int(l)) }

// EventKind is the raw record's type tag. The values match the native
// FWPM_NET_EVENT_TYPE enumeration.
type EventKind uint32

const (
	KindIkeextMMFailure  EventKind = 0
	KindIkeextQMFailure  EventKind = 1
	KindIkeextEMFailure  EventKind = 2
	KindClassifyDrop     EventKind = 3
	KindIPsecKernelDrop  EventKind = 4
	KindIPsecDoSPDrop    EventKind = 5
	KindClassifyAllow    EventKind = 6
	KindCapabilityDrop   EventKind = 7
	KindCapabilityAllow  EventKind = 8
	KindClassifyDropMAC  EventKind = 9
	KindLPMPacketArrival EventKind = 10
)

var kindNames = map[EventKind]string{
	KindIkeextMMFailure:  "IKEEXT_MM_FAILURE",
	KindIkeextQMFailure:  "IKEEXT_QM_FAILURE",
	KindIkeextEMFailure:  "IKEEXT_EM_FAILURE",
	KindClassifyDrop:     "CLASSIFY_DROP",
	KindIPsecKernelDrop:  "IPSEC_KERNEL_DROP",
	KindIPsecDoSPDrop:    "IPSEC_DOSP_DROP",
	KindClassifyAllow:    "CLASSIFY_ALLOW",
	KindCapabilityDrop:   "CAPABILITY_DROP",
	KindCapabilityAllow:  "CAPABILITY_ALLOW",
	KindClassifyDropMAC:  "CLASSIFY_DROP_MAC",
	KindLPMPacketArrival: "LPM_PACKET_ARRIVAL",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", uint32(k))
}

// Decodable reports whether the kind has a per-kind extractor. Everything
// else is counted as ignored without further decoding.
func (k EventKind) Decodable() bool {
	switch k {
	case KindClassifyDrop, KindClassifyAllow, KindCapabilityDrop, KindCapabilityAllow:
		return true
	}
	return false
}

// Drop reports whether the kind is one of the two drop kinds.
func (k EventKind) Drop() bool {
	return k == KindClassifyDrop || k == KindCapabilityDrop
}

// HeaderFlags is the header's "is-set" bitmap. A header field is only
// trusted when its bit is present.
type HeaderFlags uint32

const (
	FlagIPProtocolSet    HeaderFlags = 0x00000001
	FlagLocalAddrSet     HeaderFlags = 0x00000002
	FlagRemoteAddrSet    HeaderFlags = 0x00000004
	FlagLocalPortSet     HeaderFlags = 0x00000008
	FlagRemotePortSet    HeaderFlags = 0x00000010
	FlagAppIDSet         HeaderFlags = 0x00000020
	FlagUserIDSet        HeaderFlags = 0x00000040
	FlagScopeIDSet       HeaderFlags = 0x00000080
	FlagIPVersionSet     HeaderFlags = 0x00000100
	FlagReauthReasonSet  HeaderFlags = 0x00000200
	FlagPackageIDSet     HeaderFlags = 0x00000400
	FlagEnterpriseIDSet  HeaderFlags = 0x00000800
	FlagPolicyFlagsSet   HeaderFlags = 0x00001000
	FlagEffectiveNameSet HeaderFlags = 0x00002000
)

// Has reports whether all bits in mask are set.
func (f HeaderFlags) Has(mask HeaderFlags) bool { return f&mask == mask }

// IPVersion matches the native FWP_IP_VERSION enumeration.
type IPVersion uint32

const (
	IPv4 IPVersion = 0
	IPv6 IPVersion = 1
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	}
	return fmt.Sprintf("IPVersion(%d)", uint32(v))
}

// Direction is the normalized event direction.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionIn
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	}
	return "?"
}

// Raw direction values seen in the classify records: the FWP_DIRECTION
// enumeration (OUTBOUND=0, INBOUND=1) on newer builds, the display constants
// on older ones.
const (
	rawDirectionOutbound = 0
	rawDirectionInbound  = 1
	rawDirectionIn       = 0x3900
	rawDirectionOut      = 0x3901
)

// directionOf maps a raw classify-record direction to the normalized form.
// Older interface levels never populate the field reliably; anything
// unrecognized defaults to inbound.
func directionOf(raw uint32, set bool) Direction {
	if !set {
		return DirectionIn
	}
	switch raw {
	case rawDirectionIn, rawDirectionInbound:
		return DirectionIn
	case rawDirectionOut, rawDirectionOutbound:
		return DirectionOut
	}
	return DirectionIn
}

// Header is the version-independent extraction of the common event header.
// The native layer populates only the fields whose is-set bit is present;
// AppID is already converted from the kernel device path to a drive path.
type Header struct {
	Timestamp  time.Time
	Flags      HeaderFlags
	IPVersion  IPVersion
	Protocol   uint8
	LocalAddr  netip.Addr
	RemoteAddr netip.Addr
	LocalPort  uint16
	RemotePort uint16
	ScopeID    uint32
	AppID      string
	UserID     []byte
	PackageSID []byte
}

// Classify is the kind record shared by classify-allow and classify-drop.
// Level 0 drop records have no direction field; DirectionSet is false there.
type Classify struct {
	FilterID     uint64
	LayerID      uint16
	ReauthReason uint32
	Direction    uint32
	DirectionSet bool
	Loopback     bool
}

// Capability is the kind record shared by capability-allow and
// capability-drop.
type Capability struct {
	CapabilityID uint32
	FilterID     uint64
	Loopback     bool
}

var capabilityNames = map[uint32]string{
	0: "INTERNET_CLIENT",
	1: "INTERNET_CLIENT_SERVER",
	2: "INTERNET_PRIVATE_NETWORK",
}

// CapabilityName returns the display name of a network capability id.
func CapabilityName(id uint32) string {
	if name, ok := capabilityNames[id]; ok {
		return name
	}
	return fmt.Sprintf("CAPABILITY_%d", id)
}

// RawEvent is the version-tagged union handed to the decode pipeline: the
// interface level it was produced at, the common header, and at most one of
// the two kind records depending on Kind.
type RawEvent struct {
	Level      Level
	Kind       EventKind
	Header     Header
	Classify   *Classify
	Capability *Capability
}

// Account is a resolved security identifier.
type Account struct {
	SID     string
	Domain  string
	Account string
}

// LogicalEvent is the normalized decode target handed to the event hook
/// after a raw record is accepted. Zero-valued optional fields mean absent:
// an invalid netip.Addr, an empty string, a nil Account.
type LogicalEvent struct {
	Time       time.Time
	Kind       EventKind
	Direction  Direction
	IPVersion  IPVersion
	Protocol   string
	LocalAddr  netip.Addr
	RemoteAddr netip.Addr
	LocalPort  uint16
	RemotePort uint16
	App        string
	User       *Account
	Package    string
	FilterID   uint64
	FilterName string
	LayerID    uint16
	LayerName  string
	Capability string
	Country    string
}

var protocolNames = map[uint8]string{
	1:   "ICMP",
	2:   "IGMP",
	6:   "TCP",
	17:  "UDP",
	58:  "ICMPv6",
	132: "SCTP",
}

// ProtocolName returns the display name of an IP protocol number.
func ProtocolName(p uint8) string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("proto %d", p)
}
