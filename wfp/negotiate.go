package wfp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AttemptReason records why negotiation did not end at a given level.
type AttemptReason int

const (
	// AttemptAbsent: the entry point for the level did not resolve.
	AttemptAbsent AttemptReason = iota
	// AttemptFailed: the entry point was present but registration returned
	// a native error.
	AttemptFailed
	// AttemptTimeout: the registration call did not return in time.
	AttemptTimeout
)

func (r AttemptReason) String() string {
	switch r {
	case AttemptAbsent:
		return "entry point absent"
	case AttemptFailed:
		return "registration failed"
	case AttemptTimeout:
		return "timed out"
	}
	return "unknown"
}

// Attempt is one level tried during a negotiation.
type Attempt struct {
	Level  Level
	Reason AttemptReason
	Err    error
}

// NegotiationError reports a failed negotiation with the full per-level
// attempt record, so a version-dependent failure is diagnosable without
// source access.
type NegotiationError struct {
	Op       string
	Attempts []Attempt
}

func (e *NegotiationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "wfp: %s failed", e.Op)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %s", a.Level, a.Reason)
		if a.Err != nil && a.Reason == AttemptFailed {
			fmt.Fprintf(&sb, " (%v)", a.Err)
		}
	}
	return sb.String()
}

func (e *NegotiationError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// negotiate walks downward from the requested level until a registration
// succeeds or every level is exhausted.
//
// At each level: an absent entry point steps down only when the level is the
// unpinned default, otherwise the negotiation fails with ErrNotAvailable. A
// present entry point is attempted under the timeout; success is terminal, a
// native registration error fails the negotiation outright (a present but
// failing entry point is a real error, not a version gap), and a timeout
// steps down under the same pinning rule as absence.
//
// A timed-out registration may still complete inside the native layer after
// the walk has moved on. When it does, lost is invoked with that level from
// the abandoned goroutine so the caller can release whatever the late
// registration produced.
func negotiate(ctx context.Context, log *zap.Logger, op string, req Level, pinned bool,
	timeout time.Duration, supported func(Level) bool,
	register func(Level) error, lost func(Level)) (Level, error) {

	if !req.Valid() {
		return 0, fmt.Errorf("wfp: %s: requested %s: %w", op, req, ErrBadLevel)
	}

	neg := &NegotiationError{Op: op}
	for level := req; level >= LevelMin; level-- {
		if !supported(level) {
			neg.Attempts = append(neg.Attempts, Attempt{level, AttemptAbsent, ErrNotAvailable})
			if pinned {
				log.Error("pinned interface level not available", zap.Int("level", int(level)))
				return 0, neg
			}
			log.Info("interface level absent, stepping down", zap.Int("level", int(level)))
			continue
		}

		err := callWithTimeout(ctx, timeout, level, register, lost)
		if err == nil {
			log.Info("registered", zap.String("op", op), zap.Int("level", int(level)))
			return level, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			neg.Attempts = append(neg.Attempts, Attempt{level, AttemptTimeout, err})
			if pinned {
				return 0, neg
			}
			log.Warn("registration timed out, stepping down",
				zap.String("op", op), zap.Int("level", int(level)))
			continue
		}
		neg.Attempts = append(neg.Attempts, Attempt{level, AttemptFailed, err})
		return 0, neg
	}
	return 0, neg
}

// callWithTimeout runs register under ctx and an optional timeout. The
// native call has no cancellation of its own; on expiry the goroutine is
// abandoned. If the abandoned call then returns success, lost is invoked so
// its registration does not linger.
func callWithTimeout(ctx context.Context, timeout time.Duration, level Level,
	register func(Level) error, lost func(Level)) error {

	if timeout <= 0 && ctx.Done() == nil {
		return register(level)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// done is unbuffered: either the result is handed over in time, or the
	// goroutine sees gone closed and knows it was given up on.
	done := make(chan error)
	gone := make(chan struct{})
	go func() {
		err := register(level)
		select {
		case done <- err:
		case <-gone:
			if err == nil && lost != nil {
				lost(level)
			}
		}
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		close(gone)
		return ctx.Err()
	}
}
