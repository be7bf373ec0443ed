package store

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nmels/wfpmon/wfp"
)

func testEvent(ts time.Time) wfp.LogicalEvent {
	return wfp.LogicalEvent{
		Time:       ts,
		Kind:       wfp.KindClassifyDrop,
		Direction:  wfp.DirectionIn,
		Protocol:   "TCP",
		LocalAddr:  netip.MustParseAddr("10.0.0.1"),
		LocalPort:  443,
		RemoteAddr: netip.MustParseAddr("192.168.1.2"),
		RemotePort: 51000,
		App:        `C:\Windows\System32\svchost.exe`,
		User:       &wfp.Account{SID: "S-1-5-18", Domain: "NT AUTHORITY", Account: "SYSTEM"},
		FilterID:   71234,
		FilterName: "Block inbound",
		LayerName:  "ALE_AUTH_RECV_ACCEPT_V4",
	}
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTest(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.InsertEvent(testEvent(now)))

	recent, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	r := recent[0]
	assert.Equal(t, "CLASSIFY_DROP", r.Kind)
	assert.Equal(t, "IN", r.Direction)
	assert.Equal(t, "10.0.0.1", r.LocalAddr)
	assert.Equal(t, uint16(443), r.LocalPort)
	assert.Equal(t, "192.168.1.2", r.RemoteAddr)
	assert.Equal(t, `NT AUTHORITY\SYSTEM`, r.User)
	assert.Equal(t, uint64(71234), r.FilterID)
	assert.Equal(t, "Block inbound", r.FilterName)
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTest(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ev := testEvent(base.Add(time.Duration(i) * time.Second))
		ev.RemotePort = uint16(50000 + i)
		require.NoError(t, s.InsertEvent(ev))
	}

	recent, err := s.RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint16(50002), recent[0].RemotePort)
	assert.Equal(t, uint16(50001), recent[1].RemotePort)
}

func TestCountByKind(t *testing.T) {
	s := openTest(t)

	now := time.Now().UTC()
	require.NoError(t, s.InsertEvent(testEvent(now)))
	allow := testEvent(now)
	allow.Kind = wfp.KindClassifyAllow
	require.NoError(t, s.InsertEvent(allow))
	require.NoError(t, s.InsertEvent(testEvent(now)))

	counts, err := s.CountByKind(now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["CLASSIFY_DROP"])
	assert.Equal(t, int64(1), counts["CLASSIFY_ALLOW"])

	// Nothing after the cutoff.
	counts, err = s.CountByKind(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestInsertAndRecentMatches(t *testing.T) {
	s := openTest(t)

	event := map[string]interface{}{"DestinationPort": 4444, "EventType": "CLASSIFY_DROP"}
	require.NoError(t, s.InsertMatch(
		"0a1b2c3d-0000-4000-8000-000000000001", "Suspicious destination port",
		"high", []string{"Matched conditions: selection"}, event))
	// Empty severity defaults to medium.
	require.NoError(t, s.InsertMatch("rule-2", "Second rule", "", nil, event))

	matches, err := s.RecentMatches(10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "rule-2", matches[0].RuleID)
	assert.Equal(t, "medium", matches[0].Severity)
	assert.Equal(t, "Suspicious destination port", matches[1].RuleName)
	assert.Contains(t, matches[1].MatchDetails, "Matched conditions: selection")
	assert.Contains(t, matches[1].EventData, "4444")
}

func TestInsertMinimalEvent(t *testing.T) {
	s := openTest(t)

	// Addresses and identity absent.
	require.NoError(t, s.InsertEvent(wfp.LogicalEvent{
		Time:      time.Now().UTC(),
		Kind:      wfp.KindCapabilityDrop,
		Direction: wfp.DirectionIn,
		App:       `C:\app\sandboxed.exe`,
	}))

	recent, err := s.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Empty(t, recent[0].LocalAddr)
	assert.Empty(t, recent[0].User)
}
