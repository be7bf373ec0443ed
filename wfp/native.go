package wfp

import "errors"

// Errors surfaced by negotiation and session start.
var (
	// ErrBadLevel marks an out-of-range requested interface level. This is
	// a configuration mistake, not a negotiation failure.
	ErrBadLevel = errors.New("wfp: interface level out of range")

	// ErrNotAvailable marks a pinned interface level whose entry point is
	// absent on this platform build.
	ErrNotAvailable = errors.New("wfp: entry point not available")

	// ErrNotSupported is returned on platforms without the native engine.
	ErrNotSupported = errors.New("wfp: platform not supported")
)

// Subscriber registers a live net-event subscription at a given interface
// level. The Windows implementation drives the native engine; tests supply
// fakes.
type Subscriber interface {
	// LevelSupported reports whether the subscribe entry point for the
	// level resolved.
	LevelSupported(level Level) bool

	// Subscribe registers cb at the given level. The callback is invoked
	// by the platform on threads it owns.
	Subscribe(level Level, cb func(RawEvent)) (Subscription, error)
}

// Subscription is a live registration. Close unregisters gracefully; Abort
// releases the native handles directly without the unregister step. Both
// are idempotent and safe when nothing is registered.
type Subscription interface {
	Close() error
	Abort()
}

// Enumerator performs a one-shot enumeration of the platform's recorded
// historical event window. Negotiated separately from Subscriber because a
// platform may support one and not the other at a given level.
type Enumerator interface {
	LevelSupported(level Level) bool

	// Enumerate replays at most max recorded events through cb and returns
	// the number delivered.
	Enumerate(level Level, max int, cb func(RawEvent)) (int, error)
}

// Resolver performs the expensive native identity lookups behind the
// caches. Failures degrade to sentinels, never abort the pipeline.
type Resolver interface {
	FilterName(id uint64) (string, error)
	LayerName(id uint16) (string, error)
	Account(sid []byte) (domain, account string, err error)

	// LoggedOnSID returns the security identifier of the session's user,
	// for the own-user-only filter.
	LoggedOnSID() ([]byte, error)
}
