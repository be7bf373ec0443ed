// Package rules enumerates and prints the static firewall rule set from
// the policy store. This is a point-in-time dump, unrelated to the live
// net-event stream.
package rules

import (
	"errors"
	"fmt"

	"github.com/nmels/wfpmon/trace"
)

var errUnsupported = errors.New("rules: not supported on this platform")

// Direction a rule applies to.
type Direction uint32

const (
	DirInvalid Direction = 0
	DirIn      Direction = 1
	DirOut     Direction = 2
	DirBoth    Direction = 3
)

func (d Direction) String() string {
	switch d {
	case DirInvalid:
		return "INV"
	case DirIn:
		return "IN"
	case DirOut:
		return "OUT"
	case DirBoth:
		return "BOTH"
	}
	return "?"
}

// Action a rule takes on a match.
type Action uint32

const (
	ActionInvalid Action = iota
	ActionAllowBypass
	ActionBlock
	ActionAllow
)

func (a Action) String() string {
	switch a {
	case ActionAllowBypass:
		return "allow-bypass"
	case ActionBlock:
		return "block"
	case ActionAllow:
		return "allow"
	}
	return "?"
}

// Rule is one policy-store entry, reduced to the fields the dump prints.
type Rule struct {
	Name            string
	Description     string
	Application     string
	Service         string
	EmbeddedContext string
	Direction       Direction
	Action          Action
	Protocol        uint16
	Profiles        uint32
}

// Source yields the current rule set. showAll widens the enumeration from
// the active profile to every profile.
type Source interface {
	Rules(showAll bool) ([]Rule, error)
}

// Dump prints the rules one block each: a numbered header line with the
// direction tag and the wrapped description, then the optional name,
// program and context lines. Returns the number of rules printed.
func Dump(rs []Rule, buf *trace.Buffer, sink trace.Sink) int {
	for i, r := range rs {
		buf.Reset()

		desc := r.Description
		if desc == "" {
			desc = "?"
		}
		indent := buf.Addf("%3d: %-9s", i+1, r.Direction.String()+":")
		buf.AddWrapped(desc, indent, ' ')
		buf.Flush(sink)

		if r.Name != "" {
			buf.Addf("     name:    %s\n", r.Name)
		}
		if r.Application != "" {
			buf.Addf("     prog:    %s\n", r.Application)
		}
		if r.EmbeddedContext != "" {
			buf.Addf("     context: %s\n", r.EmbeddedContext)
		}
		buf.AddChar('\n')
		buf.Flush(sink)
	}
	return len(rs)
}

// DumpSource enumerates from src and prints the result.
func DumpSource(src Source, showAll bool, buf *trace.Buffer, sink trace.Sink) (int, error) {
	rs, err := src.Rules(showAll)
	if err != nil {
		return 0, fmt.Errorf("rules: enumerate: %w", err)
	}
	return Dump(rs, buf, sink), nil
}
