// Package capture is the live-capture core: it discovers the IDE window
// exposing the chat panel among the remote-debugging endpoints, opens a
// control channel to it, locates the execution context hosting the chat
// DOM subtree, and polls self-contained snapshots of it, emitting only
// genuine changes to a registered sink.
//
// capture observes, it does not serve. Transport to mobile clients, the
// message log and the HTTP surface live in the relay layer, which talks
// to this package through Start/Stop/Snapshot/IsStreaming only.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/chatwatch/capture/internal/devtools"
	"github.com/hazyhaar/chatwatch/capture/internal/discover"
	"github.com/hazyhaar/chatwatch/capture/internal/extract"
	"github.com/hazyhaar/chatwatch/capture/internal/locate"
	"github.com/hazyhaar/chatwatch/idgen"
)

// ErrNoEndpoint means no responsive endpoint hosts the chat panel.
var ErrNoEndpoint = errors.New("capture: no endpoint hosts the chat panel")

type state int

const (
	stateIdle state = iota
	stateDiscovering
	stateConnecting
	stateStreaming
)

func (s state) String() string {
	switch s {
	case stateDiscovering:
		return "discovering"
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// session is what the streamer needs from a control channel. Satisfied by
// *devtools.Session; faked in tests.
type session interface {
	devtools.Evaluator
	EnableContextTracking(ctx context.Context, settle time.Duration) error
	Close() error
}

// StartResult reports whether streaming began and against which window.
type StartResult struct {
	OK            bool   `json:"ok"`
	EndpointTitle string `json:"endpoint_title,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Status is a point-in-time liveness answer.
type Status struct {
	State         string `json:"state"`
	EndpointTitle string `json:"endpoint_title,omitempty"`
}

// Streamer owns the single active capture session and its poll schedule.
// Recurrence is fixed-delay: the next cycle is armed only when the
// current one finishes, so a slow extraction spaces cycles out instead of
// piling them up.
type Streamer struct {
	cfg    Config
	logger *slog.Logger

	// opMu serialises Start/Stop; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.Mutex

	st       state
	gen      uint64 // bumped on every stop/replace; stale timers check it
	sess     session
	loc      *locate.Locator
	sink     Sink
	interval time.Duration
	title    string
	timer    *time.Timer
	cancel   context.CancelFunc
	lastFP   uint64
	hasFP    bool

	// seams for tests
	discoverFn func(ctx context.Context) []discover.Endpoint
	dialFn     func(ctx context.Context, wsURL string) (session, error)
}

// New creates a Streamer from configuration.
func New(cfg Config, logger *slog.Logger) *Streamer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Streamer{cfg: cfg, logger: logger}
	s.discoverFn = func(ctx context.Context) []discover.Endpoint {
		return discover.Discover(ctx, discover.Config{
			Host:          cfg.Host,
			Ports:         cfg.Ports,
			ProductMarker: cfg.ProductMarker,
			ProbeTimeout:  cfg.ProbeTimeout,
			Logger:        logger,
		})
	}
	s.dialFn = func(ctx context.Context, wsURL string) (session, error) {
		return devtools.Dial(ctx, wsURL, cfg.DialTimeout, logger)
	}
	return s
}

// Start begins streaming snapshots to sink every interval. An existing
// session is replaced (closed first). Candidates are tried in discovery
// order; the first endpoint whose contexts host the chat root wins. When
// none does, the result carries the failure and the streamer stays idle.
func (s *Streamer) Start(ctx context.Context, sink Sink, interval time.Duration) StartResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.halt()
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}

	s.setState(stateDiscovering)
	endpoints := s.discoverFn(ctx)
	if len(endpoints) == 0 {
		s.setState(stateIdle)
		return StartResult{OK: false, Error: "no debugging endpoints responded"}
	}

	s.setState(stateConnecting)
	for _, ep := range endpoints {
		sess, err := s.dialFn(ctx, ep.WebSocketDebuggerURL)
		if err != nil {
			s.logger.Debug("capture: dial failed", "port", ep.Port, "error", err)
			continue
		}
		if err := sess.EnableContextTracking(ctx, s.cfg.SettleDelay); err != nil {
			s.logger.Debug("capture: context tracking failed", "port", ep.Port, "error", err)
			sess.Close()
			continue
		}

		loc := locate.New(s.cfg.RootSelector)
		if loc.Locate(ctx, sess) == 0 {
			sess.Close()
			continue
		}

		cycleCtx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.st = stateStreaming
		s.gen++
		gen := s.gen
		s.sess = sess
		s.loc = loc
		s.sink = sink
		s.interval = interval
		s.title = ep.Title
		s.cancel = cancel
		s.mu.Unlock()

		s.logger.Info("capture: streaming started",
			"port", ep.Port, "title", ep.Title, "interval", interval)
		s.cycle(cycleCtx, gen)
		return StartResult{OK: true, EndpointTitle: ep.Title}
	}

	s.setState(stateIdle)
	return StartResult{OK: false, Error: ErrNoEndpoint.Error()}
}

// Stop cancels the poll schedule, closes the connection and clears the
// cached fingerprint and context reference. Calling it while idle is a
// no-op.
func (s *Streamer) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.halt()
}

// IsStreaming reports whether a live session is polling.
func (s *Streamer) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateStreaming
}

// Status reports the current state and endpoint.
func (s *Streamer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.st.String()}
	if s.st == stateStreaming {
		st.EndpointTitle = s.title
	}
	return st
}

// Snapshot performs one locate+extract pass without touching the
// recurring schedule. A streaming session is reused read-only; otherwise
// an ephemeral discover→connect→extract→disconnect sequence runs against
// candidates in order. Returns nil when no snapshot can be produced.
func (s *Streamer) Snapshot(ctx context.Context) *Snapshot {
	s.mu.Lock()
	sess, loc, title := s.sess, s.loc, s.title
	streaming := s.st == stateStreaming
	s.mu.Unlock()

	if streaming && sess != nil {
		return s.capture(ctx, sess, loc, title)
	}

	for _, ep := range s.discoverFn(ctx) {
		sess, err := s.dialFn(ctx, ep.WebSocketDebuggerURL)
		if err != nil {
			continue
		}
		snap := func() *Snapshot {
			defer sess.Close()
			if err := sess.EnableContextTracking(ctx, s.cfg.SettleDelay); err != nil {
				return nil
			}
			return s.capture(ctx, sess, locate.New(s.cfg.RootSelector), ep.Title)
		}()
		if snap != nil {
			return snap
		}
	}
	return nil
}

func (s *Streamer) capture(ctx context.Context, sess session, loc *locate.Locator, title string) *Snapshot {
	contextID := loc.Locate(ctx, sess)
	if contextID == 0 {
		return nil
	}
	res, err := extract.Run(ctx, sess, contextID, s.cfg.RootSelector)
	if err != nil || res == nil {
		return nil
	}
	return s.toSnapshot(res, title)
}

// cycle runs one locate→extract→maybe-emit pass and then arms the next
// one. Every failure mode inside a cycle means "skip this cycle"; the
// schedule itself never dies from a bad pass.
func (s *Streamer) cycle(ctx context.Context, gen uint64) {
	defer s.schedule(ctx, gen)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture: cycle panic", "panic", r)
		}
	}()

	s.mu.Lock()
	live := s.st == stateStreaming && s.gen == gen
	sess, loc, sink, title := s.sess, s.loc, s.sink, s.title
	s.mu.Unlock()
	if !live || sess == nil {
		return
	}

	contextID := loc.Locate(ctx, sess)
	if contextID == 0 {
		return
	}

	res, err := extract.Run(ctx, sess, contextID, s.cfg.RootSelector)
	if err != nil {
		// The context likely died mid-extraction; rescan next cycle.
		loc.Reset()
		return
	}
	if res == nil || res.HTML == "" {
		return
	}

	fp := Fingerprint(res.HTML)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.hasFP && s.lastFP == fp {
		s.mu.Unlock()
		return
	}
	s.lastFP = fp
	s.hasFP = true
	s.mu.Unlock()

	s.deliver(ctx, sink, *s.toSnapshot(res, title))
}

func (s *Streamer) toSnapshot(res *extract.Result, title string) *Snapshot {
	return &Snapshot{
		ID:              idgen.New(),
		HTML:            res.HTML,
		CSS:             res.CSS,
		BackgroundColor: res.BackgroundColor,
		TextColor:       res.TextColor,
		EndpointTitle:   title,
		CapturedAt:      time.Now().UnixMilli(),
	}
}

// deliver hands the snapshot to the consumer synchronously within the
// cycle. A misbehaving consumer is isolated: panics and errors are logged
// and never reach the scheduler.
func (s *Streamer) deliver(ctx context.Context, sink Sink, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture: consumer panic", "panic", r)
		}
	}()
	if sink == nil {
		return
	}
	if err := sink.SendSnapshot(ctx, snap); err != nil {
		s.logger.Warn("capture: consumer rejected snapshot", "error", err)
	}
}

func (s *Streamer) schedule(ctx context.Context, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateStreaming || s.gen != gen || ctx.Err() != nil {
		return
	}
	s.timer = time.AfterFunc(s.interval, func() { s.cycle(ctx, gen) })
}

// halt tears the current session down. Callers hold opMu.
func (s *Streamer) halt() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	sess := s.sess
	s.sess = nil
	if s.loc != nil {
		s.loc.Reset()
		s.loc = nil
	}
	s.sink = nil
	s.title = ""
	s.lastFP = 0
	s.hasFP = false
	s.st = stateIdle
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			s.logger.Debug("capture: close session", "error", err)
		}
	}
}

func (s *Streamer) setState(st state) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}
