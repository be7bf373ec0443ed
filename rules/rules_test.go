package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmels/wfpmon/trace"
)

type recordSink struct {
	chunks []string
}

func (s *recordSink) Puts(text string) { s.chunks = append(s.chunks, text) }

type fakeSource struct {
	rules   []Rule
	err     error
	showAll bool
}

func (f *fakeSource) Rules(showAll bool) ([]Rule, error) {
	f.showAll = showAll
	return f.rules, f.err
}

func TestDumpFormatsRule(t *testing.T) {
	sink := &recordSink{}
	buf := trace.NewBuffer(2048, 80)

	n := Dump([]Rule{{
		Name:            "Core Networking",
		Description:     "Inbound echo request",
		Application:     `C:\Windows\System32\svchost.exe`,
		EmbeddedContext: "@FirewallAPI.dll,-25000",
		Direction:       DirIn,
	}}, buf, sink)

	assert.Equal(t, 1, n)
	require.Len(t, sink.chunks, 2)
	assert.Equal(t, "  1: IN:      Inbound echo request\n", sink.chunks[0])
	assert.Equal(t,
		"     name:    Core Networking\n"+
			`     prog:    C:\Windows\System32\svchost.exe`+"\n"+
			"     context: @FirewallAPI.dll,-25000\n"+
			"\n",
		sink.chunks[1])
}

func TestDumpWrapsDescription(t *testing.T) {
	sink := &recordSink{}
	buf := trace.NewBuffer(2048, 30)

	Dump([]Rule{{Description: "aaaa bbbb cccc dddd", Direction: DirIn}}, buf, sink)

	require.NotEmpty(t, sink.chunks)
	assert.Equal(t,
		"  1: IN:      aaaa bbbb cccc\n"+strings.Repeat(" ", 14)+"dddd\n",
		sink.chunks[0])
}

func TestDumpNumbersSequentially(t *testing.T) {
	sink := &recordSink{}
	buf := trace.NewBuffer(2048, 80)

	Dump([]Rule{
		{Description: "first", Direction: DirIn},
		{Description: "second", Direction: DirOut},
		{Description: "third", Direction: DirBoth},
	}, buf, sink)

	require.Len(t, sink.chunks, 6)
	assert.Equal(t, "  1: IN:      first\n", sink.chunks[0])
	assert.Equal(t, "  2: OUT:     second\n", sink.chunks[2])
	assert.Equal(t, "  3: BOTH:    third\n", sink.chunks[4])
	// Optional fields absent: only the separating blank line.
	assert.Equal(t, "\n", sink.chunks[1])
}

func TestDumpEmptyDescription(t *testing.T) {
	sink := &recordSink{}
	buf := trace.NewBuffer(2048, 80)

	Dump([]Rule{{Direction: DirInvalid}}, buf, sink)
	require.NotEmpty(t, sink.chunks)
	assert.Equal(t, "  1: INV:     ?\n", sink.chunks[0])
}

func TestDumpSource(t *testing.T) {
	src := &fakeSource{rules: []Rule{{Description: "x", Direction: DirIn}}}
	sink := &recordSink{}
	buf := trace.NewBuffer(2048, 80)

	n, err := DumpSource(src, true, buf, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, src.showAll)
}

func TestDumpSourceError(t *testing.T) {
	native := errors.New("access denied")
	src := &fakeSource{err: native}

	_, err := DumpSource(src, false, trace.NewBuffer(2048, 80), &recordSink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, native)
}

func TestDirectionStrings(t *testing.T) {
	assert.Equal(t, "INV", DirInvalid.String())
	assert.Equal(t, "IN", DirIn.String())
	assert.Equal(t, "OUT", DirOut.String())
	assert.Equal(t, "BOTH", DirBoth.String())
	assert.Equal(t, "?", Direction(9).String())
}
