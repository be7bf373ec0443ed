package wfp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nmels/wfpmon/geo"
)

type captureSink struct {
	chunks []string
}

func (s *captureSink) Puts(text string) { s.chunks = append(s.chunks, text) }

func newTestSession(t *testing.T, opts Options, r Resolver, g geo.Resolver) (*Session, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	s := NewSession(opts, Platform{Resolver: r}, g, sink, zaptest.NewLogger(t))
	return s, sink
}

func defaultOpts() Options {
	return Options{
		Level:    DefaultLevel,
		ShowIPv4: true,
		ShowIPv6: true,
	}
}

func classifyDropRaw() RawEvent {
	return RawEvent{
		Level: 3,
		Kind:  KindClassifyDrop,
		Header: Header{
			Timestamp: time.Date(2026, 8, 23, 14, 5, 2, 123e6, time.UTC),
			Flags: FlagIPVersionSet | FlagIPProtocolSet |
				FlagLocalAddrSet | FlagRemoteAddrSet |
				FlagLocalPortSet | FlagRemotePortSet,
			IPVersion:  IPv4,
			Protocol:   6,
			LocalAddr:  netip.MustParseAddr("10.0.0.1"),
			LocalPort:  443,
			RemoteAddr: netip.MustParseAddr("192.168.1.2"),
			RemotePort: 51000,
		},
		Classify: &Classify{
			FilterID:     71234,
			LayerID:      44,
			Direction:    rawDirectionIn,
			DirectionSet: true,
		},
	}
}

func TestHandleEventAcceptsClassifyDrop(t *testing.T) {
	r := &countingResolver{
		filters: map[uint64]string{71234: "Block inbound"},
		layers:  map[uint16]string{44: "ALE_AUTH_RECV_ACCEPT_V4"},
	}
	s, sink := newTestSession(t, defaultOpts(), r, nil)

	var got []LogicalEvent
	s.OnEvent = func(ev LogicalEvent) { got = append(got, ev) }

	s.HandleEvent(classifyDropRaw())

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(0), stats.Ignored)
	assert.Equal(t, uint64(1), stats.IPv4Seen)

	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, KindClassifyDrop, ev.Kind)
	assert.Equal(t, DirectionIn, ev.Direction)
	assert.Equal(t, "TCP", ev.Protocol)
	assert.Equal(t, "10.0.0.1", ev.LocalAddr.String())
	assert.Equal(t, "192.168.1.2", ev.RemoteAddr.String())
	assert.Empty(t, ev.App)
	assert.Nil(t, ev.User)
	assert.Equal(t, "Block inbound", ev.FilterName)
	assert.Equal(t, "ALE_AUTH_RECV_ACCEPT_V4", ev.LayerName)

	require.Len(t, sink.chunks, 1)
	out := sink.chunks[0]
	assert.Contains(t, out, "CLASSIFY_DROP, IN, TCP")
	assert.Contains(t, out, "10.0.0.1:443 -> 192.168.1.2:51000")
	assert.Contains(t, out, "Block inbound (71234)")
}

func TestHandleEventExcludedAddressIgnored(t *testing.T) {
	opts := defaultOpts()
	opts.ExcludeAddrs = []string{"10.0.0.1"}
	s, sink := newTestSession(t, opts, &countingResolver{}, nil)

	hooked := false
	s.OnEvent = func(LogicalEvent) { hooked = true }

	s.HandleEvent(classifyDropRaw())

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Ignored)
	assert.Empty(t, sink.chunks)
	assert.False(t, hooked)
}

func TestHandleEventNoFieldsIgnored(t *testing.T) {
	// All is-set bits clear: always ignored, for every decodable kind.
	for _, kind := range []EventKind{
		KindClassifyDrop, KindClassifyAllow, KindCapabilityDrop, KindCapabilityAllow,
	} {
		opts := defaultOpts()
		opts.ShowAll = true
		s, sink := newTestSession(t, opts, &countingResolver{}, nil)
		s.HandleEvent(RawEvent{Kind: kind})
		stats := s.Stats()
		assert.Equal(t, uint64(0), stats.Accepted, "kind %s", kind)
		assert.Equal(t, uint64(1), stats.Ignored, "kind %s", kind)
		assert.Empty(t, sink.chunks, "kind %s", kind)
	}
}

func TestHandleEventAllowNeedsShowAll(t *testing.T) {
	raw := classifyDropRaw()
	raw.Kind = KindClassifyAllow

	s, _ := newTestSession(t, defaultOpts(), &countingResolver{}, nil)
	s.HandleEvent(raw)
	assert.Equal(t, uint64(0), s.Stats().Accepted)
	assert.Equal(t, uint64(1), s.Stats().Ignored)

	opts := defaultOpts()
	opts.ShowAll = true
	s, _ = newTestSession(t, opts, &countingResolver{}, nil)
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Accepted)
}

func TestHandleEventUnknownKindIgnored(t *testing.T) {
	opts := defaultOpts()
	opts.ShowAll = true
	s, _ := newTestSession(t, opts, &countingResolver{}, nil)

	raw := classifyDropRaw()
	raw.Kind = KindIkeextMMFailure
	raw.Classify = nil
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Ignored)
}

func TestHandleEventIPVersionToggle(t *testing.T) {
	opts := defaultOpts()
	opts.ShowIPv6 = false
	s, _ := newTestSession(t, opts, &countingResolver{}, nil)

	raw := classifyDropRaw()
	raw.Header.IPVersion = IPv6
	raw.Header.LocalAddr = netip.MustParseAddr("2001:db8::1")
	raw.Header.RemoteAddr = netip.MustParseAddr("2001:db8::2")
	s.HandleEvent(raw)

	assert.Equal(t, uint64(0), s.Stats().Accepted)
	assert.Equal(t, uint64(1), s.Stats().Ignored)
}

func TestHandleEventProgramExclusion(t *testing.T) {
	opts := defaultOpts()
	opts.ExcludePrograms = []string{"svchost.exe"}
	s, _ := newTestSession(t, opts, &countingResolver{}, nil)

	raw := classifyDropRaw()
	raw.Header.Flags |= FlagAppIDSet
	raw.Header.AppID = `C:\Windows\System32\svchost.EXE`
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Ignored)

	// Full-path exclusion, case-insensitive.
	opts.ExcludePrograms = []string{`c:\windows\system32\svchost.exe`}
	s, _ = newTestSession(t, opts, &countingResolver{}, nil)
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Ignored)

	// A different program passes.
	opts.ExcludePrograms = []string{"other.exe"}
	s, _ = newTestSession(t, opts, &countingResolver{}, nil)
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Accepted)
}

func TestHandleEventDirectionDefaultsInbound(t *testing.T) {
	s, _ := newTestSession(t, defaultOpts(), &countingResolver{}, nil)

	var got LogicalEvent
	s.OnEvent = func(ev LogicalEvent) { got = ev }

	raw := classifyDropRaw()
	raw.Classify.DirectionSet = false
	s.HandleEvent(raw)
	assert.Equal(t, DirectionIn, got.Direction)

	raw = classifyDropRaw()
	raw.Classify.Direction = rawDirectionOut
	s.HandleEvent(raw)
	assert.Equal(t, DirectionOut, got.Direction)
}

func TestHandleEventCapabilityDrop(t *testing.T) {
	s, sink := newTestSession(t, defaultOpts(), &countingResolver{}, nil)

	var got LogicalEvent
	s.OnEvent = func(ev LogicalEvent) { got = ev }

	raw := RawEvent{
		Level: 3,
		Kind:  KindCapabilityDrop,
		Header: Header{
			Timestamp: time.Now(),
			Flags:     FlagAppIDSet,
			AppID:     `C:\app\sandboxed.exe`,
		},
		Capability: &Capability{CapabilityID: 0, FilterID: 9},
	}
	s.HandleEvent(raw)

	assert.Equal(t, uint64(1), s.Stats().Accepted)
	assert.Equal(t, "INTERNET_CLIENT", got.Capability)
	assert.Equal(t, DirectionIn, got.Direction)
	require.Len(t, sink.chunks, 1)
	assert.Contains(t, sink.chunks[0], "capability: INTERNET_CLIENT")
}

func TestHandleEventUserResolved(t *testing.T) {
	r := &countingResolver{accounts: map[string][2]string{
		"S-1-5-18": {"NT AUTHORITY", "SYSTEM"},
	}}
	s, sink := newTestSession(t, defaultOpts(), r, nil)

	raw := classifyDropRaw()
	raw.Header.Flags |= FlagUserIDSet
	raw.Header.UserID = testSID(18)
	s.HandleEvent(raw)

	require.Len(t, sink.chunks, 1)
	assert.Contains(t, sink.chunks[0], `user:    NT AUTHORITY\SYSTEM`)
}

func TestHandleEventNullPackageNotInteresting(t *testing.T) {
	s, _ := newTestSession(t, defaultOpts(), &countingResolver{}, nil)

	// S-1-0-0 as the only candidate field: ignored.
	raw := RawEvent{
		Kind: KindClassifyDrop,
		Header: Header{
			Flags:      FlagPackageIDSet,
			PackageSID: []byte{1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		Classify: &Classify{},
	}
	s.HandleEvent(raw)
	assert.Equal(t, uint64(1), s.Stats().Ignored)
}

func TestHandleEventCountryLookup(t *testing.T) {
	g := geo.Static{"192.168.1.2": "Norway"}
	s, sink := newTestSession(t, defaultOpts(), &countingResolver{}, g)

	var got LogicalEvent
	s.OnEvent = func(ev LogicalEvent) { got = ev }

	s.HandleEvent(classifyDropRaw())
	assert.Equal(t, "Norway", got.Country)
	require.Len(t, sink.chunks, 1)
	assert.Contains(t, sink.chunks[0], "country: Norway")
}
