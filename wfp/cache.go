package wfp

import (
	"bytes"

	"go.uber.org/zap"
)

// The caches are append-only linear scans keyed by exact identity: a
// session sees a small number of distinct SIDs and filter ids repeated many
// times, so avoiding the native round-trip matters far more than lookup
// asymptotics. Entries are immutable once appended and dropped in bulk at
// session teardown. A failed resolution is cached too, under the "?"
// sentinel, so a key known to fail is not retried per event.

const unresolved = "?"

type sidEntry struct {
	sid     []byte
	display string
	domain  string
	account string
}

type sidCache struct {
	entries []*sidEntry
}

// lookupOrAdd returns the cached entry for sid, resolving and appending it
// on first sight. The key is byte-exact identifier equality.
func (c *sidCache) lookupOrAdd(sid []byte, r Resolver, log *zap.Logger) *sidEntry {
	for _, e := range c.entries {
		if bytes.Equal(e.sid, sid) {
			return e
		}
	}

	e := &sidEntry{
		sid:     append([]byte(nil), sid...),
		display: unresolved,
		domain:  unresolved,
		account: unresolved,
	}
	if s, err := SIDString(sid); err == nil {
		e.display = s
	}
	if r != nil {
		domain, account, err := r.Account(sid)
		if err != nil {
			log.Debug("account lookup failed", zap.String("sid", e.display), zap.Error(err))
		} else {
			if domain != "" {
				e.domain = domain
			}
			if account != "" {
				e.account = account
			}
		}
	}
	c.entries = append(c.entries, e)
	return e
}

func (c *sidCache) drop() { c.entries = nil }

type filterEntry struct {
	id   uint64
	name string
}

// noFilter is the reserved id-zero entry; it is never cached dynamically.
var noFilter = filterEntry{id: 0, name: "NULL"}

type filterCache struct {
	entries []*filterEntry
}

func (c *filterCache) lookupOrAdd(id uint64, r Resolver, log *zap.Logger) *filterEntry {
	if id == 0 {
		return &noFilter
	}
	for _, e := range c.entries {
		if e.id == id {
			return e
		}
	}

	e := &filterEntry{id: id, name: unresolved}
	if r != nil {
		name, err := r.FilterName(id)
		if err != nil {
			log.Debug("filter lookup failed", zap.Uint64("filter", id), zap.Error(err))
		} else if name != "" {
			e.name = name
		}
	}
	c.entries = append(c.entries, e)
	return e
}

func (c *filterCache) drop() { c.entries = nil }
