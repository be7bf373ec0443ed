package wfp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmels/wfpmon/geo"
	"github.com/nmels/wfpmon/trace"
)

// Options is the per-session policy configuration.
type Options struct {
	// Level is the requested interface level. LevelPinned marks it as
	// explicitly configured: a pinned level must succeed exactly there,
	// only the unpinned default walks down.
	Level       Level
	LevelPinned bool

	// ShowAll decodes allow events and null package identifiers in
	// addition to the drop kinds.
	ShowAll  bool
	ShowIPv4 bool
	ShowIPv6 bool

	// OwnUserOnly rejects events attributed to any user other than the
	// session's logged-on user.
	OwnUserOnly bool

	// ExcludeAddrs rejects events whose local or remote address matches
	// exactly. ExcludePrograms matches the application path, full or
	// basename, case-insensitively.
	ExcludeAddrs    []string
	ExcludePrograms []string

	// Timeout bounds each native registration call during negotiation.
	// Zero means no timeout.
	Timeout time.Duration

	// Width is the display width for wrapped lines.
	Width int
}

// Platform bundles the native dependencies of a session. Any of the fields
// may be nil; the corresponding operations degrade (no subscription, no
// enumeration, sentinel identity values).
type Platform struct {
	Subscriber Subscriber
	Enumerator Enumerator
	Resolver   Resolver
}

// Stats are the session's running event counters.
type Stats struct {
	Accepted uint64
	Ignored  uint64
	IPv4Seen uint64
	IPv6Seen uint64
}

// Session owns one monitoring run: the live subscription, the lookup
// caches, the counters and the line buffer. The full decode-classify-format
// cycle for one raw record runs under a single mutex; the platform invokes
// the callback on threads it owns, possibly concurrently.
type Session struct {
	// OnEvent, when set, receives each accepted logical event after its
	// formatted lines are flushed. This is the wiring point for the event
	// store and the detector. Called under the session mutex.
	OnEvent func(LogicalEvent)

	opts Options
	p    Platform
	geo  geo.Resolver
	sink trace.Sink
	log  *zap.Logger

	excludeAddrs    map[string]struct{}
	excludePrograms map[string]struct{}

	lifeMu       sync.Mutex
	subscription Subscription
	level        Level

	mu      sync.Mutex
	buf     *trace.Buffer
	sids    sidCache
	filters filterCache
	stats   Stats
	ownSID  []byte
}

// NewSession builds a session. sink receives the formatted output; g may be
// nil to disable location lookups.
func NewSession(opts Options, p Platform, g geo.Resolver, sink trace.Sink, log *zap.Logger) *Session {
	addrs := make(map[string]struct{}, len(opts.ExcludeAddrs))
	for _, a := range opts.ExcludeAddrs {
		addrs[a] = struct{}{}
	}
	progs := make(map[string]struct{}, len(opts.ExcludePrograms))
	for _, pr := range opts.ExcludePrograms {
		progs[strings.ToLower(pr)] = struct{}{}
	}
	if g == nil {
		g = geo.Nop{}
	}
	return &Session{
		opts:            opts,
		p:               p,
		geo:             g,
		sink:            sink,
		log:             log,
		excludeAddrs:    addrs,
		excludePrograms: progs,
		buf:             trace.NewBuffer(2048, opts.Width),
	}
}

// Start verifies the native structure layouts, negotiates an interface
// level and registers the live subscription.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.subscription != nil {
		return errors.New("wfp: session already started")
	}
	if s.p.Subscriber == nil {
		return ErrNotSupported
	}
	if err := VerifyABI(); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats = Stats{}
	s.ownSID = nil
	if s.opts.OwnUserOnly && s.p.Resolver != nil {
		sid, err := s.p.Resolver.LoggedOnSID()
		if err != nil {
			s.log.Warn("cannot resolve logged-on user, own-user filter disabled", zap.Error(err))
		} else {
			s.ownSID = sid
		}
	}
	s.mu.Unlock()

	// A registration abandoned by the negotiation timeout may still land
	// after the walk has moved on. Each successful registration is parked
	// per level; losers are aborted from the goroutine that produced them,
	// so at most the winning subscription stays live.
	var pendMu sync.Mutex
	pending := make(map[Level]Subscription)

	register := func(l Level) error {
		sub, serr := s.p.Subscriber.Subscribe(l, s.HandleEvent)
		if serr != nil {
			return serr
		}
		pendMu.Lock()
		pending[l] = sub
		pendMu.Unlock()
		return nil
	}
	lost := func(l Level) {
		pendMu.Lock()
		sub := pending[l]
		delete(pending, l)
		pendMu.Unlock()
		if sub != nil {
			sub.Abort()
			s.log.Warn("aborted late registration", zap.Int("level", int(l)))
		}
	}

	level, err := negotiate(ctx, s.log, "subscribe",
		s.opts.Level, s.opts.LevelPinned, s.opts.Timeout,
		s.p.Subscriber.LevelSupported, register, lost)
	if err != nil {
		return err
	}

	pendMu.Lock()
	active := pending[level]
	delete(pending, level)
	pendMu.Unlock()

	s.subscription = active
	s.level = level
	return nil
}

// Level returns the negotiated interface level of the live subscription.
func (s *Session) Level() Level {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.level
}

// Stop unregisters the live subscription gracefully and drops the caches.
// Safe to call repeatedly and with no subscription active.
func (s *Session) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.subscription == nil {
		return nil
	}
	err := s.subscription.Close()
	s.subscription = nil
	s.dropCaches()
	return err
}

// Abort releases the native handles directly, skipping the graceful
// unregister step. For forced teardown paths.
func (s *Session) Abort() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.subscription == nil {
		return
	}
	s.subscription.Abort()
	s.subscription = nil
	s.dropCaches()
}

func (s *Session) dropCaches() {
	s.mu.Lock()
	s.sids.drop()
	s.filters.drop()
	s.mu.Unlock()
}

// DumpEvents replays the platform's recorded historical event window
// through the decode pipeline, negotiating an enumeration level separately
// from the subscription. Returns the number of raw records replayed.
func (s *Session) DumpEvents(ctx context.Context, max int) (int, error) {
	if s.p.Enumerator == nil {
		return 0, ErrNotSupported
	}
	if err := VerifyABI(); err != nil {
		return 0, err
	}

	// The replay reports its own totals; counters from a live session do
	// not carry over into the dump summary.
	s.mu.Lock()
	s.stats = Stats{}
	s.mu.Unlock()

	total := 0
	_, err := negotiate(ctx, s.log, "enumerate",
		s.opts.Level, s.opts.LevelPinned, s.opts.Timeout,
		s.p.Enumerator.LevelSupported,
		func(l Level) error {
			n, eerr := s.p.Enumerator.Enumerate(l, max, s.HandleEvent)
			if eerr != nil {
				return eerr
			}
			total = n
			return nil
		}, nil)
	return total, err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ReportStats writes the end-of-session summary through the trace sink.
func (s *Session) ReportStats() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.Accepted == 0 && s.stats.Ignored == 0 {
		return
	}
	s.buf.Reset()
	s.buf.Addf("Got %d events, %d ignored.\n", s.stats.Accepted, s.stats.Ignored)
	if s.opts.ShowIPv4 {
		s.buf.Addf("IPv4 events: %d.\n", s.stats.IPv4Seen)
	}
	if s.opts.ShowIPv6 {
		s.buf.Addf("IPv6 events: %d.\n", s.stats.IPv6Seen)
	}
	s.buf.Flush(s.sink)
}
