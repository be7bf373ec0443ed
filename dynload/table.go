// Package dynload resolves native entry points by name at run time.
//
// The set of functions exported by the platform's firewall libraries varies
// by OS version and build, so nothing here is linked statically: every
// function used by the monitor is looked up through a Table. Entries marked
// Optional are expected to be individually absent on some platform versions
// (they correspond to version-specific interface levels); only losing too
// many of them is fatal.
package dynload

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LibHandle is an opaque reference to a loaded native library.
type LibHandle uintptr

// Loader performs the actual library open / symbol lookup. The Windows
// implementation wraps LoadLibraryEx and GetProcAddress; tests supply a fake.
type Loader interface {
	Open(library string) (LibHandle, error)
	Lookup(h LibHandle, symbol string) (uintptr, error)
	Close(h LibHandle) error
}

// Entry is one named symbol in one named library.
type Entry struct {
	// Optional entries may be absent without failing the table load.
	Optional bool
	Library  string
	Symbol   string

	addr uintptr
}

// Addr returns the resolved function pointer, or 0 if unresolved.
func (e *Entry) Addr() uintptr { return e.addr }

// Resolved reports whether the entry has a usable pointer.
func (e *Entry) Resolved() bool { return e.addr != 0 }

// Table is a load table of entry points sharing one Loader.
type Table struct {
	// MinNeeded is the smallest number of resolved entries for the table
	// to count as loaded. It is deliberately less than len(entries):
	// the per-level subscribe/enum functions are expected to be missing
	// on older or newer platform builds.
	MinNeeded int

	mu      sync.Mutex
	entries []*Entry
	loader  Loader
	// libs holds one handle per opened library; entries in the same
	// library share it.
	libs map[string]LibHandle
	log  *zap.Logger
}

// NewTable builds a table over the given entries. MinNeeded defaults to the
// number of non-optional entries.
func NewTable(loader Loader, logger *zap.Logger, entries ...*Entry) *Table {
	required := 0
	for _, e := range entries {
		if !e.Optional {
			required++
		}
	}
	return &Table{
		MinNeeded: required,
		entries:   entries,
		loader:    loader,
		libs:      make(map[string]LibHandle),
		log:       logger,
	}
}

// Entries returns the table's entries in declaration order.
func (t *Table) Entries() []*Entry { return t.entries }

// Lookup returns the entry for symbol, or nil.
func (t *Table) Lookup(symbol string) *Entry {
	for _, e := range t.entries {
		if e.Symbol == symbol {
			return e
		}
	}
	return nil
}

// Addr returns the resolved pointer for symbol and whether it is usable.
func (t *Table) Addr(symbol string) (uintptr, bool) {
	e := t.Lookup(symbol)
	if e == nil || e.addr == 0 {
		return 0, false
	}
	return e.addr, true
}

// Resolve resolves every unresolved entry and returns the number of entries
// with a usable pointer. Already-resolved entries are skipped, so calling
// Resolve twice is a no-op. All entries are attempted even after a failure,
// to maximize the diagnostic value of the log. The table load fails when a
// non-optional entry is absent or fewer than MinNeeded entries resolved.
func (t *Table) Resolve() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var missingRequired []string
	resolved := 0
	for _, e := range t.entries {
		if e.addr != 0 {
			resolved++
			continue
		}
		addr, err := t.resolveLocked(e)
		if err != nil {
			if e.Optional {
				t.log.Debug("optional entry point absent",
					zap.String("library", e.Library),
					zap.String("symbol", e.Symbol),
					zap.Error(err))
			} else {
				t.log.Warn("required entry point absent",
					zap.String("library", e.Library),
					zap.String("symbol", e.Symbol),
					zap.Error(err))
				missingRequired = append(missingRequired, e.Symbol)
			}
			continue
		}
		e.addr = addr
		resolved++
	}

	if len(missingRequired) > 0 {
		return resolved, fmt.Errorf("dynload: required entry points missing: %v", missingRequired)
	}
	if resolved < t.MinNeeded {
		return resolved, fmt.Errorf("dynload: resolved %d of %d entries, need at least %d",
			resolved, len(t.entries), t.MinNeeded)
	}
	return resolved, nil
}

func (t *Table) resolveLocked(e *Entry) (uintptr, error) {
	h, ok := t.libs[e.Library]
	if !ok {
		var err error
		h, err = t.loader.Open(e.Library)
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", e.Library, err)
		}
		t.libs[e.Library] = h
	}
	addr, err := t.loader.Lookup(h, e.Symbol)
	if err != nil {
		return 0, fmt.Errorf("lookup %s!%s: %w", e.Library, e.Symbol, err)
	}
	return addr, nil
}

// Unresolve clears every resolved pointer and closes the opened libraries.
// The table can be resolved again afterwards.
func (t *Table) Unresolve() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		e.addr = 0
	}
	for name, h := range t.libs {
		if err := t.loader.Close(h); err != nil {
			t.log.Debug("closing library", zap.String("library", name), zap.Error(err))
		}
		delete(t.libs, name)
	}
}
