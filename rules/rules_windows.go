//go:build windows

package rules

import (
	"fmt"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/nmels/wfpmon/dynload"
)

// Policy-store parameters for FWOpenPolicyStore. The binary version pins
// the FW_RULE wire shape the service hands back; Redstone 2 is the newest
// revision the local mirror understands.
const (
	binaryVersionRedstone2 = 0x021B

	storeTypeDefaults = 7
	accessRightRead   = 1
	storeFlagsNone    = 0

	ruleStatusClassAll = 0xFFFF0000

	profileTypeAll     = 0x7FFFFFFF
	profileTypeCurrent = 0x80000000

	enumFlagResolveName        = 0x0001
	enumFlagResolveDescription = 0x0002
	enumFlagResolveApplication = 0x0004
	enumFlagResolveKeyword     = 0x0008
)

// rawRule mirrors the leading part of FW_RULE on amd64. Only the fields up
// to wszEmbeddedContext are read; the allocation the service returns is
// larger and the tail is never touched.
type rawRule struct {
	next            *rawRule // 0
	schemaVersion   uint16   // 8
	_               [6]byte
	ruleID          *uint16 // 16
	name            *uint16 // 24
	description     *uint16 // 32
	profiles        uint32  // 40
	direction       uint32  // 44
	ipProtocol      uint16  // 48
	_               [6]byte
	_               [48]byte // ports / icmp type-code union, 56
	_               [72]byte // local addresses, 104
	_               [72]byte // remote addresses, 176
	_               [16]byte // local interface luids, 248
	_               uint32   // local interface types, 264
	_               uint32
	localApp        *uint16 // 272
	localService    *uint16 // 280
	action          uint32  // 288
	flags           uint32  // 292
	remoteMachines  *uint16 // 296
	remoteUsers     *uint16 // 304
	embeddedContext *uint16 // 312
}

// PolicyStore is an open read-only handle to the defaults policy store.
type PolicyStore struct {
	log    *zap.Logger
	table  *dynload.Table
	handle uintptr
}

// OpenPolicyStore opens the store through the already-resolved entry-point
// table. The FirewallAPI half of the table is optional, so the symbols may
// legitimately be missing on stripped-down systems.
func OpenPolicyStore(table *dynload.Table, log *zap.Logger) (*PolicyStore, error) {
	open, ok := table.Addr("FWOpenPolicyStore")
	if !ok {
		return nil, fmt.Errorf("rules: FWOpenPolicyStore not present")
	}
	var handle uintptr
	if err := apiCall(open,
		binaryVersionRedstone2, 0,
		storeTypeDefaults, accessRightRead, storeFlagsNone,
		uintptr(unsafe.Pointer(&handle))); err != nil {
		return nil, fmt.Errorf("rules: FWOpenPolicyStore: %w", err)
	}
	return &PolicyStore{log: log, table: table, handle: handle}, nil
}

// Close releases the store handle.
func (p *PolicyStore) Close() error {
	if p.handle == 0 {
		return nil
	}
	var err error
	if addr, ok := p.table.Addr("FWClosePolicyStore"); ok {
		err = apiCall(addr, p.handle)
	}
	p.handle = 0
	return err
}

// Rules enumerates the store, resolving indirect name and description
// strings and expanding application paths on the service side.
func (p *PolicyStore) Rules(showAll bool) ([]Rule, error) {
	enum, ok := p.table.Addr("FWEnumFirewallRules")
	if !ok {
		return nil, fmt.Errorf("rules: FWEnumFirewallRules not present")
	}

	flags := uintptr(enumFlagResolveName | enumFlagResolveDescription |
		enumFlagResolveApplication | enumFlagResolveKeyword)
	profile := uintptr(profileTypeCurrent)
	if showAll {
		profile = profileTypeAll
	}

	var (
		count uint32
		head  *rawRule
	)
	if err := apiCall(enum, p.handle, ruleStatusClassAll, profile, flags,
		uintptr(unsafe.Pointer(&count)),
		uintptr(unsafe.Pointer(&head))); err != nil {
		return nil, fmt.Errorf("rules: FWEnumFirewallRules: %w", err)
	}
	defer func() {
		if head == nil {
			return
		}
		if free, ok := p.table.Addr("FWFreeFirewallRules"); ok {
			apiCall(free, uintptr(unsafe.Pointer(head)))
		}
	}()

	p.log.Debug("enumerated firewall rules", zap.Uint32("count", count))

	rs := make([]Rule, 0, count)
	for r := head; r != nil && len(rs) < int(count); r = r.next {
		rs = append(rs, Rule{
			Name:            windows.UTF16PtrToString(r.name),
			Description:     windows.UTF16PtrToString(r.description),
			Application:     windows.UTF16PtrToString(r.localApp),
			Service:         windows.UTF16PtrToString(r.localService),
			EmbeddedContext: windows.UTF16PtrToString(r.embeddedContext),
			Direction:       Direction(r.direction),
			Action:          Action(r.action),
			Protocol:        r.ipProtocol,
			Profiles:        r.profiles,
		})
	}
	if len(rs) != int(count) {
		p.log.Debug("rule list shorter than reported count",
			zap.Int("walked", len(rs)), zap.Uint32("reported", count))
	}
	return rs, nil
}

// apiCall invokes a FirewallAPI entry point returning a win32 error code.
func apiCall(addr uintptr, args ...uintptr) error {
	r1, _, _ := syscall.SyscallN(addr, args...)
	if r1 != 0 {
		return syscall.Errno(r1)
	}
	return nil
}
