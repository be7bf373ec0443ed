//go:build windows

package wfp

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/nmels/wfpmon/dynload"
)

const (
	fwpuclntDLL    = "FwpUclnt.dll"
	firewallAPIDLL = "FirewallAPI.dll"

	rpcAuthnWinNT      = 10
	sessionFlagDynamic = 0x00000001

	// FWPM_ENGINE_OPTION values.
	engineOptionCollectNetEvents         = 0
	engineOptionNetEventMatchAnyKeywords = 1
	engineOptionMonitorIPsecConnections  = 3

	// FWP_DATA_TYPE tag for a UINT32 FWP_VALUE0.
	fwpUint32 = 3

	// FWPM_NET_EVENT_KEYWORD bits widening the match-any mask.
	keywordInboundMcast    = 0x00000001
	keywordInboundBcast    = 0x00000002
	keywordCapabilityDrop  = 0x00000004
	keywordCapabilityAllow = 0x00000008
	keywordClassifyAllow   = 0x00000010
)

// Symbols resolved from the native firewall libraries. The per-level
// subscribe and enum entry points are optional: which of them exist depends
// on the OS build.
var (
	subscribeSymbols = [5]string{
		"FwpmNetEventSubscribe0",
		"FwpmNetEventSubscribe1",
		"FwpmNetEventSubscribe2",
		"FwpmNetEventSubscribe3",
		"FwpmNetEventSubscribe4",
	}
	enumSymbols = [5]string{
		"FwpmNetEventEnum0",
		"FwpmNetEventEnum1",
		"FwpmNetEventEnum2",
		"FwpmNetEventEnum3",
		"FwpmNetEventEnum4",
	}
)

// NewLoadTable declares every native entry point the monitor may use.
// MinNeeded is one more than the required count: besides the always-present
// engine plumbing, at least one per-level subscribe or enum function must
// exist for the monitor to be of any use.
func NewLoadTable(log *zap.Logger) *dynload.Table {
	entries := []*dynload.Entry{
		{Library: fwpuclntDLL, Symbol: "FwpmEngineOpen0"},
		{Library: fwpuclntDLL, Symbol: "FwpmEngineClose0"},
		{Library: fwpuclntDLL, Symbol: "FwpmEngineSetOption0"},
		{Library: fwpuclntDLL, Symbol: "FwpmFreeMemory0"},
		{Library: fwpuclntDLL, Symbol: "FwpmNetEventUnsubscribe0"},
		{Library: fwpuclntDLL, Symbol: "FwpmNetEventCreateEnumHandle0"},
		{Library: fwpuclntDLL, Symbol: "FwpmNetEventDestroyEnumHandle0"},
		{Library: fwpuclntDLL, Symbol: "FwpmFilterGetById0"},
		{Library: fwpuclntDLL, Symbol: "FwpmLayerGetById0"},
	}
	for _, sym := range subscribeSymbols {
		entries = append(entries, &dynload.Entry{Optional: true, Library: fwpuclntDLL, Symbol: sym})
	}
	for _, sym := range enumSymbols {
		entries = append(entries, &dynload.Entry{Optional: true, Library: fwpuclntDLL, Symbol: sym})
	}
	entries = append(entries,
		&dynload.Entry{Optional: true, Library: firewallAPIDLL, Symbol: "FWOpenPolicyStore"},
		&dynload.Entry{Optional: true, Library: firewallAPIDLL, Symbol: "FWClosePolicyStore"},
		&dynload.Entry{Optional: true, Library: firewallAPIDLL, Symbol: "FWEnumFirewallRules"},
		&dynload.Entry{Optional: true, Library: firewallAPIDLL, Symbol: "FWFreeFirewallRules"},
	)
	tab := dynload.NewTable(dynload.SystemLoader{}, log, entries...)
	tab.MinNeeded++
	return tab
}

// Engine owns the opened filtering-engine handle and the load table it was
// resolved through.
type Engine struct {
	log    *zap.Logger
	table  *dynload.Table
	handle windows.Handle

	driveOnce sync.Once
	drives    map[string]string
}

// OpenEngine resolves the entry-point table and opens a dynamic session
// against the local filtering engine.
func OpenEngine(log *zap.Logger) (*Engine, error) {
	table := NewLoadTable(log)
	if _, err := table.Resolve(); err != nil {
		return nil, err
	}

	open, ok := table.Addr("FwpmEngineOpen0")
	if !ok {
		return nil, ErrNotAvailable
	}
	session := rawSession{flags: sessionFlagDynamic}
	var handle windows.Handle
	if err := fwCall(open, 0, rpcAuthnWinNT, 0,
		uintptr(unsafe.Pointer(&session)),
		uintptr(unsafe.Pointer(&handle))); err != nil {
		table.Unresolve()
		return nil, fmt.Errorf("wfp: FwpmEngineOpen0: %w", err)
	}
	return &Engine{log: log, table: table, handle: handle}, nil
}

// rawValue mirrors FWP_VALUE0: a type tag and an 8-byte union. The UINT32
// member occupies the low bytes of the union.
type rawValue struct {
	typ   uint32
	_     uint32
	value uint64
}

// EnableNetEvents switches on kernel-side collection of net events and
// widens the match-any keyword mask so capability drop and allow events are
// delivered; showAll adds classify-allow, inbound multicast and broadcast.
// Without collection enabled a subscription never sees anything, so any
// failure here is fatal.
func (e *Engine) EnableNetEvents(showAll bool) error {
	addr, ok := e.table.Addr("FwpmEngineSetOption0")
	if !ok {
		return ErrNotAvailable
	}
	set := func(option uint32, v uint32) error {
		val := rawValue{typ: fwpUint32, value: uint64(v)}
		if err := fwCall(addr, uintptr(e.handle), uintptr(option),
			uintptr(unsafe.Pointer(&val))); err != nil {
			return fmt.Errorf("wfp: FwpmEngineSetOption0(%d): %w", option, err)
		}
		return nil
	}

	if err := set(engineOptionCollectNetEvents, 1); err != nil {
		return err
	}
	keywords := uint32(keywordCapabilityDrop | keywordCapabilityAllow)
	if showAll {
		keywords |= keywordClassifyAllow | keywordInboundMcast | keywordInboundBcast
	}
	if err := set(engineOptionNetEventMatchAnyKeywords, keywords); err != nil {
		return err
	}
	return set(engineOptionMonitorIPsecConnections, 1)
}

// Close shuts the engine session and releases the resolved libraries.
func (e *Engine) Close() error {
	var err error
	if e.handle != 0 {
		if addr, ok := e.table.Addr("FwpmEngineClose0"); ok {
			err = fwCall(addr, uintptr(e.handle))
		}
		e.handle = 0
	}
	e.table.Unresolve()
	return err
}

// Table exposes the resolved entry-point table, for the rule-enumeration
// path that shares the FirewallAPI half of it.
func (e *Engine) Table() *dynload.Table { return e.table }

// Platform returns the native implementations bound to this engine.
func (e *Engine) Platform() Platform {
	return Platform{
		Subscriber: &engineSubscriber{e},
		Enumerator: &engineEnumerator{e},
		Resolver:   &engineResolver{e},
	}
}

// fwCall invokes a resolved entry point returning a win32 error code.
func fwCall(addr uintptr, args ...uintptr) error {
	r1, _, _ := syscall.SyscallN(addr, args...)
	if r1 != 0 {
		return syscall.Errno(r1)
	}
	return nil
}

// Native structure mirrors. The platform's own declarations are not
// present in older SDK headers, so the shapes are declared here with
// explicit padding for amd64 and cross-checked at start by VerifyABI.

type rawByteBlob struct {
	size uint32
	_    uint32
	data *byte
}

type rawDisplayData struct {
	name        *uint16
	description *uint16
}

type rawSession struct {
	sessionKey       windows.GUID
	displayData      rawDisplayData
	flags            uint32
	txnWaitTimeoutMS uint32
	processID        uint32
	_                uint32
	sid              *windows.SID
	username         *uint16
	kernelMode       int32
	_                uint32
}

type rawEnumTemplate struct {
	startTime           windows.Filetime
	endTime             windows.Filetime
	numFilterConditions uint32
	_                   uint32
	filterCondition     unsafe.Pointer
}

type rawSubscription struct {
	enumTemplate *rawEnumTemplate
	flags        uint32
	sessionKey   windows.GUID
}

type rawHeader0 struct {
	timeStamp  windows.Filetime
	flags      uint32
	ipVersion  uint32
	ipProtocol uint8
	_          [3]byte
	localAddr  [16]byte
	remoteAddr [16]byte
	localPort  uint16
	remotePort uint16
	scopeID    uint32
	_          uint32
	appID      rawByteBlob
	userID     *windows.SID
}

type rawHeader1 struct {
	timeStamp  windows.Filetime
	flags      uint32
	ipVersion  uint32
	ipProtocol uint8
	_          [3]byte
	localAddr  [16]byte
	remoteAddr [16]byte
	localPort  uint16
	remotePort uint16
	scopeID    uint32
	_          uint32
	appID      rawByteBlob
	userID     *windows.SID
	_          uint32
	_          uint32
	_          [48]byte
}

type rawHeader2 struct {
	timeStamp     windows.Filetime
	flags         uint32
	ipVersion     uint32
	ipProtocol    uint8
	_             [3]byte
	localAddr     [16]byte
	remoteAddr    [16]byte
	localPort     uint16
	remotePort    uint16
	scopeID       uint32
	_             uint32
	appID         rawByteBlob
	userID        *windows.SID
	addressFamily uint32
	_             uint32
	packageSID    *windows.SID
}

type rawHeader3 struct {
	timeStamp     windows.Filetime
	flags         uint32
	ipVersion     uint32
	ipProtocol    uint8
	_             [3]byte
	localAddr     [16]byte
	remoteAddr    [16]byte
	localPort     uint16
	remotePort    uint16
	scopeID       uint32
	_             uint32
	appID         rawByteBlob
	userID        *windows.SID
	addressFamily uint32
	_             uint32
	packageSID    *windows.SID
	enterpriseID  *uint16
	policyFlags   uint64
	effectiveName rawByteBlob
}

type rawClassifyDrop0 struct {
	filterID uint64
	layerID  uint16
	_        [6]byte
}

type rawClassifyDrop1 struct {
	filterID        uint64
	layerID         uint16
	_               [2]byte
	reauthReason    uint32
	originalProfile uint32
	currentProfile  uint32
	msFwpDirection  uint32
	isLoopback      int32
}

type rawClassifyDrop2 struct {
	filterID               uint64
	layerID                uint16
	_                      [2]byte
	reauthReason           uint32
	originalProfile        uint32
	currentProfile         uint32
	msFwpDirection         uint32
	isLoopback             int32
	vSwitchID              rawByteBlob
	vSwitchSourcePort      uint32
	vSwitchDestinationPort uint32
}

type rawClassifyAllow0 struct {
	filterID        uint64
	layerID         uint16
	_               [2]byte
	reauthReason    uint32
	originalProfile uint32
	currentProfile  uint32
	msFwpDirection  uint32
	isLoopback      int32
}

type rawCapability0 struct {
	networkCapabilityID uint32
	_                   uint32
	filterID            uint64
	isLoopback          int32
	_                   uint32
}

type rawEvent0 struct {
	header rawHeader0
	typ    uint32
	_      uint32
	record unsafe.Pointer
}

type rawEvent1 struct {
	header rawHeader1
	typ    uint32
	_      uint32
	record unsafe.Pointer
}

type rawEvent2 struct {
	header rawHeader2
	typ    uint32
	_      uint32
	record unsafe.Pointer
}

// rawEvent3 also covers the level 4 and 5 event shapes: they differ only in
// which record pointers the union may legally carry.
type rawEvent3 struct {
	header rawHeader3
	typ    uint32
	_      uint32
	record unsafe.Pointer
}

// Only the prefixes of the filter and layer structures are declared; the
// lookups read nothing past displayData.
type rawFilter struct {
	filterKey   windows.GUID
	displayData rawDisplayData
}

type rawLayer struct {
	layerKey    windows.GUID
	displayData rawDisplayData
}

// Decode helpers.

func filetimeToTime(ft windows.Filetime) time.Time {
	return time.Unix(0, ft.Nanoseconds())
}

// rawAddr converts the header's 16-byte address union. IPv4 addresses are
// delivered as a host-order UINT32, IPv6 addresses as 16 network-order
// bytes.
func rawAddr(version IPVersion, raw [16]byte) netip.Addr {
	if version == IPv6 {
		return netip.AddrFrom16(raw)
	}
	v4 := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return netip.AddrFrom4([4]byte{byte(v4 >> 24), byte(v4 >> 16), byte(v4 >> 8), byte(v4)})
}

func blobUTF16(b rawByteBlob) string {
	if b.data == nil || b.size < 2 {
		return ""
	}
	u := unsafe.Slice((*uint16)(unsafe.Pointer(b.data)), b.size/2)
	return windows.UTF16ToString(u)
}

func copySID(sid *windows.SID) []byte {
	if sid == nil {
		return nil
	}
	n := windows.GetLengthSid(sid)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(sid)), n)
	return append([]byte(nil), raw...)
}

func (e *Engine) decodeHeader(ts windows.Filetime, flags, ipVersion uint32, proto uint8,
	local, remote [16]byte, localPort, remotePort uint16, scopeID uint32,
	appID rawByteBlob, userID, packageSID *windows.SID) Header {

	h := Header{
		Timestamp:  filetimeToTime(ts),
		Flags:      HeaderFlags(flags),
		IPVersion:  IPVersion(ipVersion),
		Protocol:   proto,
		LocalPort:  localPort,
		RemotePort: remotePort,
		ScopeID:    scopeID,
	}
	if h.Flags.Has(FlagIPVersionSet) {
		if h.Flags.Has(FlagLocalAddrSet) {
			h.LocalAddr = rawAddr(h.IPVersion, local)
		}
		if h.Flags.Has(FlagRemoteAddrSet) {
			h.RemoteAddr = rawAddr(h.IPVersion, remote)
		}
	}
	if h.Flags.Has(FlagAppIDSet) {
		h.AppID = e.devicePathToDrive(blobUTF16(appID))
	}
	if h.Flags.Has(FlagUserIDSet) {
		h.UserID = copySID(userID)
	}
	if h.Flags.Has(FlagPackageIDSet) {
		h.PackageSID = copySID(packageSID)
	}
	return h
}

func classifyOf(p unsafe.Pointer, shape Level, drop bool) *Classify {
	if p == nil {
		return nil
	}
	if shape == 0 && drop {
		d := (*rawClassifyDrop0)(p)
		return &Classify{FilterID: d.filterID, LayerID: d.layerID}
	}
	// Version 1+ drop records and all allow records share the richer prefix.
	d := (*rawClassifyDrop1)(p)
	return &Classify{
		FilterID:     d.filterID,
		LayerID:      d.layerID,
		ReauthReason: d.reauthReason,
		Direction:    d.msFwpDirection,
		DirectionSet: true,
		Loopback:     d.isLoopback != 0,
	}
}

func capabilityOf(p unsafe.Pointer) *Capability {
	if p == nil {
		return nil
	}
	c := (*rawCapability0)(p)
	return &Capability{
		CapabilityID: c.networkCapabilityID,
		FilterID:     c.filterID,
		Loopback:     c.isLoopback != 0,
	}
}

// buildRawEvent assembles the portable union for one native record. shape is
// the version of the event structure actually delivered: a subscription at
// level N hands out version N+1 records, an enumeration at level N hands out
// version N. Only the version 0 shape carries the short classify-drop record;
// allow and capability records exist from version 2 on.
func (e *Engine) buildRawEvent(level, shape Level, kind EventKind, h Header, record unsafe.Pointer) RawEvent {
	raw := RawEvent{Level: level, Kind: kind, Header: h}
	switch kind {
	case KindClassifyDrop:
		raw.Classify = classifyOf(record, shape, true)
	case KindClassifyAllow:
		if shape >= 2 {
			raw.Classify = classifyOf(record, shape, false)
		}
	case KindCapabilityDrop, KindCapabilityAllow:
		if shape >= 2 {
			raw.Capability = capabilityOf(record)
		}
	}
	return raw
}

func (e *Engine) decodeEvent0(level Level, ev *rawEvent0) RawEvent {
	h := e.decodeHeader(ev.header.timeStamp, ev.header.flags, ev.header.ipVersion,
		ev.header.ipProtocol, ev.header.localAddr, ev.header.remoteAddr,
		ev.header.localPort, ev.header.remotePort, ev.header.scopeID,
		ev.header.appID, ev.header.userID, nil)
	return e.buildRawEvent(level, 0, EventKind(ev.typ), h, ev.record)
}

func (e *Engine) decodeEvent1(level Level, ev *rawEvent1) RawEvent {
	h := e.decodeHeader(ev.header.timeStamp, ev.header.flags, ev.header.ipVersion,
		ev.header.ipProtocol, ev.header.localAddr, ev.header.remoteAddr,
		ev.header.localPort, ev.header.remotePort, ev.header.scopeID,
		ev.header.appID, ev.header.userID, nil)
	return e.buildRawEvent(level, 1, EventKind(ev.typ), h, ev.record)
}

func (e *Engine) decodeEvent2(level Level, ev *rawEvent2) RawEvent {
	h := e.decodeHeader(ev.header.timeStamp, ev.header.flags, ev.header.ipVersion,
		ev.header.ipProtocol, ev.header.localAddr, ev.header.remoteAddr,
		ev.header.localPort, ev.header.remotePort, ev.header.scopeID,
		ev.header.appID, ev.header.userID, ev.header.packageSID)
	return e.buildRawEvent(level, 2, EventKind(ev.typ), h, ev.record)
}

func (e *Engine) decodeEvent3(level Level, ev *rawEvent3) RawEvent {
	h := e.decodeHeader(ev.header.timeStamp, ev.header.flags, ev.header.ipVersion,
		ev.header.ipProtocol, ev.header.localAddr, ev.header.remoteAddr,
		ev.header.localPort, ev.header.remotePort, ev.header.scopeID,
		ev.header.appID, ev.header.userID, ev.header.packageSID)
	return e.buildRawEvent(level, 3, EventKind(ev.typ), h, ev.record)
}

// devicePathToDrive rewrites a kernel device path prefix
// (\Device\HarddiskVolumeN\...) to its drive letter. The mapping is read
// once per engine; unknown prefixes pass through untouched.
func (e *Engine) devicePathToDrive(path string) string {
	e.driveOnce.Do(func() {
		e.drives = make(map[string]string)
		buf := make([]uint16, 512)
		for letter := 'A'; letter <= 'Z'; letter++ {
			drive := string(letter) + ":"
			p, err := windows.UTF16PtrFromString(drive)
			if err != nil {
				continue
			}
			n, err := windows.QueryDosDevice(p, &buf[0], uint32(len(buf)))
			if err != nil || n == 0 {
				continue
			}
			e.drives[strings.ToLower(windows.UTF16ToString(buf))] = drive
		}
	})
	lower := strings.ToLower(path)
	for device, drive := range e.drives {
		if strings.HasPrefix(lower, device+`\`) {
			return drive + path[len(device):]
		}
	}
	return path
}

// engineSubscriber registers the live subscription at one interface level.
// Subscribe level N delivers records of the level N+1 event shape.
type engineSubscriber struct{ e *Engine }

func (s *engineSubscriber) LevelSupported(l Level) bool {
	if !l.Valid() {
		return false
	}
	_, ok := s.e.table.Addr(subscribeSymbols[l])
	return ok
}

func (s *engineSubscriber) Subscribe(l Level, cb func(RawEvent)) (Subscription, error) {
	addr, ok := s.e.table.Addr(subscribeSymbols[l])
	if !ok {
		return nil, ErrNotAvailable
	}

	// Callback thunks live for the process lifetime; one per Subscribe
	// call is acceptable for a diagnostic session.
	var thunk uintptr
	switch l {
	case 0:
		thunk = windows.NewCallback(func(ctx, ev uintptr) uintptr {
			cb(s.e.decodeEvent1(l, (*rawEvent1)(unsafe.Pointer(ev))))
			return 0
		})
	case 1:
		thunk = windows.NewCallback(func(ctx, ev uintptr) uintptr {
			cb(s.e.decodeEvent2(l, (*rawEvent2)(unsafe.Pointer(ev))))
			return 0
		})
	default:
		thunk = windows.NewCallback(func(ctx, ev uintptr) uintptr {
			cb(s.e.decodeEvent3(l, (*rawEvent3)(unsafe.Pointer(ev))))
			return 0
		})
	}

	sub := rawSubscription{}
	var events windows.Handle
	if err := fwCall(addr,
		uintptr(s.e.handle),
		uintptr(unsafe.Pointer(&sub)),
		thunk,
		0,
		uintptr(unsafe.Pointer(&events))); err != nil {
		return nil, fmt.Errorf("wfp: %s: %w", subscribeSymbols[l], err)
	}
	return &engineSubscription{e: s.e, events: events}, nil
}

type engineSubscription struct {
	e      *Engine
	mu     sync.Mutex
	events windows.Handle
}

func (s *engineSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == 0 {
		return nil
	}
	events := s.events
	s.events = 0
	addr, ok := s.e.table.Addr("FwpmNetEventUnsubscribe0")
	if !ok {
		return ErrNotAvailable
	}
	if err := fwCall(addr, uintptr(s.e.handle), uintptr(events)); err != nil {
		return fmt.Errorf("wfp: FwpmNetEventUnsubscribe0: %w", err)
	}
	return nil
}

func (s *engineSubscription) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == 0 {
		return
	}
	windows.CloseHandle(s.events)
	s.events = 0
}

// engineEnumerator replays the recorded event window. Enum level N delivers
// records of the level N event shape.
type engineEnumerator struct{ e *Engine }

func (en *engineEnumerator) LevelSupported(l Level) bool {
	if !l.Valid() {
		return false
	}
	_, ok := en.e.table.Addr(enumSymbols[l])
	return ok
}

func (en *engineEnumerator) Enumerate(l Level, max int, cb func(RawEvent)) (int, error) {
	enumAddr, ok := en.e.table.Addr(enumSymbols[l])
	if !ok {
		return 0, ErrNotAvailable
	}
	create, ok1 := en.e.table.Addr("FwpmNetEventCreateEnumHandle0")
	destroy, ok2 := en.e.table.Addr("FwpmNetEventDestroyEnumHandle0")
	free, ok3 := en.e.table.Addr("FwpmFreeMemory0")
	if !ok1 || !ok2 || !ok3 {
		return 0, ErrNotAvailable
	}

	// From zero-time until now.
	var now windows.Filetime
	windows.GetSystemTimeAsFileTime(&now)
	template := rawEnumTemplate{endTime: now}

	var enumHandle windows.Handle
	if err := fwCall(create,
		uintptr(en.e.handle),
		uintptr(unsafe.Pointer(&template)),
		uintptr(unsafe.Pointer(&enumHandle))); err != nil {
		return 0, fmt.Errorf("wfp: FwpmNetEventCreateEnumHandle0: %w", err)
	}
	defer fwCall(destroy, uintptr(en.e.handle), uintptr(enumHandle))

	requested := uint32(0xFFFFFFFF)
	if max > 0 {
		requested = uint32(max)
	}
	var entries unsafe.Pointer
	var returned uint32
	if err := fwCall(enumAddr,
		uintptr(en.e.handle),
		uintptr(enumHandle),
		uintptr(requested),
		uintptr(unsafe.Pointer(&entries)),
		uintptr(unsafe.Pointer(&returned))); err != nil {
		return 0, fmt.Errorf("wfp: %s: %w", enumSymbols[l], err)
	}
	defer fwCall(free, uintptr(unsafe.Pointer(&entries)))

	if entries == nil || returned == 0 {
		return 0, nil
	}
	ptrs := unsafe.Slice((*unsafe.Pointer)(entries), returned)
	for _, p := range ptrs {
		switch l {
		case 0:
			cb(en.e.decodeEvent0(l, (*rawEvent0)(p)))
		case 1:
			cb(en.e.decodeEvent1(l, (*rawEvent1)(p)))
		case 2:
			cb(en.e.decodeEvent2(l, (*rawEvent2)(p)))
		default:
			cb(en.e.decodeEvent3(l, (*rawEvent3)(p)))
		}
	}
	return int(returned), nil
}

// engineResolver performs the native identity lookups behind the caches.
type engineResolver struct{ e *Engine }

func (r *engineResolver) FilterName(id uint64) (string, error) {
	addr, ok := r.e.table.Addr("FwpmFilterGetById0")
	if !ok {
		return "", ErrNotAvailable
	}
	free, _ := r.e.table.Addr("FwpmFreeMemory0")

	var filter *rawFilter
	if err := fwCall(addr, uintptr(r.e.handle), uintptr(id),
		uintptr(unsafe.Pointer(&filter))); err != nil {
		return "", err
	}
	defer fwCall(free, uintptr(unsafe.Pointer(&filter)))
	if filter == nil || filter.displayData.name == nil {
		return "", nil
	}
	return windows.UTF16PtrToString(filter.displayData.name), nil
}

func (r *engineResolver) LayerName(id uint16) (string, error) {
	addr, ok := r.e.table.Addr("FwpmLayerGetById0")
	if !ok {
		return "", ErrNotAvailable
	}
	free, _ := r.e.table.Addr("FwpmFreeMemory0")

	var layer *rawLayer
	if err := fwCall(addr, uintptr(r.e.handle), uintptr(id),
		uintptr(unsafe.Pointer(&layer))); err != nil {
		return "", err
	}
	defer fwCall(free, uintptr(unsafe.Pointer(&layer)))
	if layer == nil || layer.displayData.name == nil {
		return "", nil
	}
	return windows.UTF16PtrToString(layer.displayData.name), nil
}

func (r *engineResolver) Account(sid []byte) (string, string, error) {
	if len(sid) == 0 {
		return "", "", fmt.Errorf("wfp: empty sid")
	}
	s := (*windows.SID)(unsafe.Pointer(&sid[0]))
	account, domain, _, err := s.LookupAccount("")
	if err != nil {
		return "", "", err
	}
	return domain, account, nil
}

func (r *engineResolver) LoggedOnSID() ([]byte, error) {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return nil, err
	}
	defer token.Close()
	user, err := token.GetTokenUser()
	if err != nil {
		return nil, err
	}
	return copySID(user.User.Sid), nil
}
