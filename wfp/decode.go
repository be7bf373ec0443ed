package wfp

import (
	"bytes"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

const fieldIndent = "  "

// HandleEvent runs the full decode-classify-format cycle for one raw
// record. It is the subscription callback and the enumeration sink; the
// platform may invoke it concurrently from threads it owns, so the whole
// cycle holds the session mutex. Exactly one counter is incremented per
// record. A rejected record resets the line buffer without flushing.
func (s *Session) HandleEvent(raw RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	ev, ok := s.decodeLocked(raw)
	if !ok {
		s.stats.Ignored++
		s.buf.Reset()
		return
	}

	s.stats.Accepted++
	if raw.Header.Flags.Has(FlagIPVersionSet) {
		if raw.Header.IPVersion == IPv4 {
			s.stats.IPv4Seen++
		} else if raw.Header.IPVersion == IPv6 {
			s.stats.IPv6Seen++
		}
	}
	s.formatLocked(ev)
	s.buf.Flush(s.sink)
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

// decodeLocked normalizes one raw record into a logical event, applying the
// policy filters. Returns false when the record is to be counted as
// ignored. Header fields are trusted only when their is-set bit is present;
// absent fields stay at their zero value and render as placeholders.
func (s *Session) decodeLocked(raw RawEvent) (LogicalEvent, bool) {
	h := raw.Header

	if !raw.Kind.Decodable() {
		s.log.Debug("unhandled event kind", zap.Stringer("kind", raw.Kind))
		return LogicalEvent{}, false
	}
	if !s.opts.ShowAll && !raw.Kind.Drop() {
		return LogicalEvent{}, false
	}

	if h.Flags.Has(FlagIPVersionSet) {
		if h.IPVersion == IPv4 && !s.opts.ShowIPv4 {
			return LogicalEvent{}, false
		}
		if h.IPVersion == IPv6 && !s.opts.ShowIPv6 {
			return LogicalEvent{}, false
		}
	}

	ev := LogicalEvent{
		Time:      h.Timestamp,
		Kind:      raw.Kind,
		IPVersion: h.IPVersion,
	}
	if h.Flags.Has(FlagIPProtocolSet) {
		ev.Protocol = ProtocolName(h.Protocol)
	}

	// Addresses are meaningful only when the IP version itself is set.
	addrPresent := false
	if h.Flags.Has(FlagIPVersionSet) {
		if h.Flags.Has(FlagLocalAddrSet) && h.LocalAddr.IsValid() {
			if s.addrExcluded(h.LocalAddr) {
				return LogicalEvent{}, false
			}
			ev.LocalAddr = h.LocalAddr
			if h.Flags.Has(FlagLocalPortSet) {
				ev.LocalPort = h.LocalPort
			}
			addrPresent = true
		}
		if h.Flags.Has(FlagRemoteAddrSet) && h.RemoteAddr.IsValid() {
			if s.addrExcluded(h.RemoteAddr) {
				return LogicalEvent{}, false
			}
			ev.RemoteAddr = h.RemoteAddr
			if h.Flags.Has(FlagRemotePortSet) {
				ev.RemotePort = h.RemotePort
			}
			addrPresent = true
		}
	}

	appPresent := false
	if h.Flags.Has(FlagAppIDSet) && h.AppID != "" {
		if s.programExcluded(h.AppID) {
			return LogicalEvent{}, false
		}
		ev.App = h.AppID
		appPresent = true
	}

	userPresent := false
	if h.Flags.Has(FlagUserIDSet) && len(h.UserID) > 0 {
		if s.opts.OwnUserOnly && len(s.ownSID) > 0 && !bytes.Equal(h.UserID, s.ownSID) {
			return LogicalEvent{}, false
		}
		se := s.sids.lookupOrAdd(h.UserID, s.p.Resolver, s.log)
		ev.User = &Account{SID: se.display, Domain: se.domain, Account: se.account}
		userPresent = true
	}

	pkgPresent := false
	if h.Flags.Has(FlagPackageIDSet) && len(h.PackageSID) > 0 {
		se := s.sids.lookupOrAdd(h.PackageSID, s.p.Resolver, s.log)
		// The all-zero package identifier carries no information.
		if se.display != nullSID || s.opts.ShowAll {
			ev.Package = se.display
			pkgPresent = true
		}
	}

	if !addrPresent && !appPresent && !userPresent && !pkgPresent {
		return LogicalEvent{}, false
	}

	switch {
	case raw.Classify != nil:
		ev.Direction = directionOf(raw.Classify.Direction, raw.Classify.DirectionSet)
		fe := s.filters.lookupOrAdd(raw.Classify.FilterID, s.p.Resolver, s.log)
		ev.FilterID, ev.FilterName = fe.id, fe.name
		ev.LayerID = raw.Classify.LayerID
		ev.LayerName = s.layerName(raw.Classify.LayerID)
	case raw.Capability != nil:
		ev.Direction = DirectionIn
		ev.Capability = CapabilityName(raw.Capability.CapabilityID)
		fe := s.filters.lookupOrAdd(raw.Capability.FilterID, s.p.Resolver, s.log)
		ev.FilterID, ev.FilterName = fe.id, fe.name
	default:
		ev.Direction = DirectionIn
	}

	if ev.RemoteAddr.IsValid() {
		if country, err := s.geo.Country(ev.RemoteAddr); err == nil && country != "" {
			ev.Country = country
		}
	}
	return ev, true
}

func (s *Session) layerName(id uint16) string {
	if s.p.Resolver == nil {
		return unresolved
	}
	name, err := s.p.Resolver.LayerName(id)
	if err != nil || name == "" {
		return unresolved
	}
	return name
}

func (s *Session) addrExcluded(addr netip.Addr) bool {
	_, ok := s.excludeAddrs[addr.String()]
	return ok
}

// programExcluded matches the application path against the exclusion set,
// case-insensitively, as both the full path and the basename.
func (s *Session) programExcluded(path string) bool {
	lower := strings.ToLower(path)
	if _, ok := s.excludePrograms[lower]; ok {
		return true
	}
	_, ok := s.excludePrograms[baseName(lower)]
	return ok
}

// baseName strips the directory part of a path with either separator
// convention; the application identity always carries Windows separators
// but tests run everywhere.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// formatLocked assembles the accepted event's display lines in the session
// buffer.
func (s *Session) formatLocked(ev LogicalEvent) {
	s.buf.Addf("%s: %s", ev.Time.Format("15:04:05.000"), ev.Kind)
	if ev.Direction != DirectionUnknown {
		s.buf.Addf(", %s", ev.Direction)
	}
	if ev.Protocol != "" {
		s.buf.Addf(", %s", ev.Protocol)
	}
	s.buf.AddChar('\n')

	if ev.Capability != "" {
		s.buf.Addf("%scapability: %s\n", fieldIndent, ev.Capability)
	}
	if ev.LocalAddr.IsValid() || ev.RemoteAddr.IsValid() {
		s.buf.Addf("%saddr:    %s -> %s\n", fieldIndent,
			hostport(ev.LocalAddr, ev.LocalPort), hostport(ev.RemoteAddr, ev.RemotePort))
	}
	if ev.App != "" {
		s.buf.Addf("%sapp:     %s\n", fieldIndent, ev.App)
	}
	if ev.User != nil {
		s.buf.Addf("%suser:    %s\\%s\n", fieldIndent, ev.User.Domain, ev.User.Account)
	}
	if ev.Package != "" {
		s.buf.Addf("%spackage: %s\n", fieldIndent, ev.Package)
	}
	if ev.FilterName != "" {
		s.buf.Addf("%sfilter:  %s (%d)\n", fieldIndent, ev.FilterName, ev.FilterID)
	}
	if ev.LayerName != "" {
		s.buf.Addf("%slayer:   %s (%d)\n", fieldIndent, ev.LayerName, ev.LayerID)
	}
	if ev.Country != "" {
		s.buf.Addf("%scountry: %s\n", fieldIndent, ev.Country)
	}
}

func hostport(addr netip.Addr, port uint16) string {
	if !addr.IsValid() {
		return "-"
	}
	if port == 0 {
		return addr.String()
	}
	return netip.AddrPortFrom(addr, port).String()
}
