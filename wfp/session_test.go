package wfp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSubscription struct {
	mu      sync.Mutex
	closed  int
	aborted int
}

func (f *fakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSubscription) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
}

func (f *fakeSubscription) counts() (closed, aborted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.aborted
}

type fakeSubscriber struct {
	mu      sync.Mutex
	levels  map[Level]bool
	failAt  map[Level]error
	delay   map[Level]time.Duration
	cb      func(RawEvent)
	sub     *fakeSubscription
	subs    map[Level]*fakeSubscription
	atLevel Level
}

func (f *fakeSubscriber) LevelSupported(l Level) bool { return f.levels[l] }

func (f *fakeSubscriber) Subscribe(l Level, cb func(RawEvent)) (Subscription, error) {
	if d := f.delay[l]; d > 0 {
		time.Sleep(d)
	}
	if err := f.failAt[l]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	f.atLevel = l
	f.sub = &fakeSubscription{}
	if f.subs == nil {
		f.subs = make(map[Level]*fakeSubscription)
	}
	f.subs[l] = f.sub
	return f.sub, nil
}

func (f *fakeSubscriber) at(l Level) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[l]
}

type fakeEnumerator struct {
	levels  map[Level]bool
	events  []RawEvent
	atLevel Level
}

func (f *fakeEnumerator) LevelSupported(l Level) bool { return f.levels[l] }

func (f *fakeEnumerator) Enumerate(l Level, max int, cb func(RawEvent)) (int, error) {
	f.atLevel = l
	n := 0
	for _, ev := range f.events {
		if n >= max {
			break
		}
		cb(ev)
		n++
	}
	return n, nil
}

func allLevels() map[Level]bool {
	return map[Level]bool{0: true, 1: true, 2: true, 3: true, 4: true}
}

func TestSessionStartStop(t *testing.T) {
	sub := &fakeSubscriber{levels: allLevels()}
	sink := &captureSink{}
	s := NewSession(defaultOpts(), Platform{Subscriber: sub, Resolver: &countingResolver{}},
		nil, sink, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, DefaultLevel, s.Level())
	assert.Equal(t, DefaultLevel, sub.atLevel)

	// Starting twice is an error.
	assert.Error(t, s.Start(context.Background()))

	// Events flow through the registered callback.
	sub.cb(classifyDropRaw())
	assert.Equal(t, uint64(1), s.Stats().Accepted)
	assert.Len(t, sink.chunks, 1)

	require.NoError(t, s.Stop())
	assert.Equal(t, 1, sub.sub.closed)
	// Idempotent.
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, sub.sub.closed)
}

func TestSessionStartWalksDown(t *testing.T) {
	sub := &fakeSubscriber{levels: map[Level]bool{1: true, 0: true}}
	s := NewSession(defaultOpts(), Platform{Subscriber: sub},
		nil, &captureSink{}, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Level(1), s.Level())
}

func TestSessionStartPinnedUnavailable(t *testing.T) {
	sub := &fakeSubscriber{levels: map[Level]bool{3: true}}
	opts := defaultOpts()
	opts.Level = 4
	opts.LevelPinned = true
	s := NewSession(opts, Platform{Subscriber: sub}, nil, &captureSink{}, zaptest.NewLogger(t))

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestSessionStartRegistrationFailure(t *testing.T) {
	native := errors.New("FWP_E_SESSION_ABORTED")
	sub := &fakeSubscriber{levels: allLevels(), failAt: map[Level]error{3: native}}
	s := NewSession(defaultOpts(), Platform{Subscriber: sub},
		nil, &captureSink{}, zaptest.NewLogger(t))

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, native)
}

func TestSessionStartNoSubscriber(t *testing.T) {
	s := NewSession(defaultOpts(), Platform{}, nil, &captureSink{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, s.Start(context.Background()), ErrNotSupported)
}

func TestSessionAbort(t *testing.T) {
	sub := &fakeSubscriber{levels: allLevels()}
	s := NewSession(defaultOpts(), Platform{Subscriber: sub},
		nil, &captureSink{}, zaptest.NewLogger(t))

	// Safe with nothing registered.
	s.Abort()

	require.NoError(t, s.Start(context.Background()))
	s.Abort()
	assert.Equal(t, 1, sub.sub.aborted)
	assert.Equal(t, 0, sub.sub.closed)
	s.Abort()
	assert.Equal(t, 1, sub.sub.aborted)
}

func TestSessionStartAbortsLateRegistration(t *testing.T) {
	// Level 3 outlives the negotiation timeout; the walk settles on level 2
	// while the native call at level 3 is still in flight. When that call
	// finally lands, its subscription must be aborted, leaving exactly the
	// level 2 subscription live.
	sub := &fakeSubscriber{
		levels: allLevels(),
		delay:  map[Level]time.Duration{3: 150 * time.Millisecond},
	}
	opts := defaultOpts()
	opts.Timeout = 20 * time.Millisecond
	s := NewSession(opts, Platform{Subscriber: sub}, nil, &captureSink{}, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Level(2), s.Level())

	assert.Eventually(t, func() bool {
		late := sub.at(3)
		if late == nil {
			return false
		}
		_, aborted := late.counts()
		return aborted == 1
	}, time.Second, 10*time.Millisecond)

	closed, aborted := sub.at(2).counts()
	assert.Equal(t, 0, closed)
	assert.Equal(t, 0, aborted)

	require.NoError(t, s.Stop())
	closed, _ = sub.at(2).counts()
	assert.Equal(t, 1, closed)
}

func TestSessionOwnUserOnly(t *testing.T) {
	sub := &fakeSubscriber{levels: allLevels()}
	r := &countingResolver{
		own: testSID(1001),
		accounts: map[string][2]string{
			"S-1-5-1001": {"HOST", "alice"},
		},
	}
	opts := defaultOpts()
	opts.OwnUserOnly = true
	s := NewSession(opts, Platform{Subscriber: sub, Resolver: r},
		nil, &captureSink{}, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))

	// Another user's event is rejected.
	raw := classifyDropRaw()
	raw.Header.Flags |= FlagUserIDSet
	raw.Header.UserID = testSID(18)
	sub.cb(raw)
	assert.Equal(t, uint64(1), s.Stats().Ignored)

	// The session user's own event passes.
	raw = classifyDropRaw()
	raw.Header.Flags |= FlagUserIDSet
	raw.Header.UserID = testSID(1001)
	sub.cb(raw)
	assert.Equal(t, uint64(1), s.Stats().Accepted)
}

func TestSessionDumpEvents(t *testing.T) {
	enum := &fakeEnumerator{
		levels: map[Level]bool{2: true},
		events: []RawEvent{classifyDropRaw(), classifyDropRaw(), classifyDropRaw()},
	}
	s := NewSession(defaultOpts(), Platform{Enumerator: enum},
		nil, &captureSink{}, zaptest.NewLogger(t))

	// Counters restart for the replay; earlier traffic does not leak into
	// the dump totals.
	s.HandleEvent(classifyDropRaw())
	require.Equal(t, uint64(1), s.Stats().Accepted)

	n, err := s.DumpEvents(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Level(2), enum.atLevel)
	assert.Equal(t, uint64(2), s.Stats().Accepted)
}

func TestSessionDumpEventsNoEnumerator(t *testing.T) {
	s := NewSession(defaultOpts(), Platform{}, nil, &captureSink{}, zaptest.NewLogger(t))
	_, err := s.DumpEvents(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestSessionReportStats(t *testing.T) {
	sink := &captureSink{}
	opts := defaultOpts()
	opts.ExcludeAddrs = []string{"10.0.0.1"}
	s := NewSession(opts, Platform{}, nil, sink, zaptest.NewLogger(t))

	// Nothing seen yet: no report.
	s.ReportStats()
	assert.Empty(t, sink.chunks)

	raw := classifyDropRaw()
	raw.Header.LocalAddr = classifyDropRaw().Header.RemoteAddr
	s.HandleEvent(raw)                // accepted
	s.HandleEvent(classifyDropRaw()) // excluded address, ignored

	s.ReportStats()
	require.NotEmpty(t, sink.chunks)
	out := sink.chunks[len(sink.chunks)-1]
	assert.Contains(t, out, "Got 1 events, 1 ignored.")
	assert.Contains(t, out, "IPv4 events: 1.")
}
