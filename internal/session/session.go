// Package session follows one recurring market across its windows: it
// resolves each window's market, streams its two order books and rolls
// over at every window boundary.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/orderbook"
	"github.com/johan/polymarket-orderbook-watcher/internal/telemetry"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
	"github.com/johan/polymarket-orderbook-watcher/internal/ws"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("session already running")

// Resolver maps a window start to its market.
type Resolver interface {
	BuildSlug(windowStart int64) string
	ResolveWindow(ctx context.Context, windowStart int64) (*market.Market, error)
}

// Options configures a Session. Zero Window, timeouts and InboxSize take the
// defaults below; SettleDelay and RetryInterval are used as given.
type Options struct {
	Window         time.Duration
	SettleDelay    time.Duration
	FetchTimeout   time.Duration
	ConnectTimeout time.Duration
	// RetryInterval re-attempts a failed window before the next boundary.
	// Zero waits for the next window.
	RetryInterval time.Duration
	InboxSize     int
	Clock         Clock
}

const (
	DefaultSettleDelay    = 2 * time.Second
	DefaultFetchTimeout   = 10 * time.Second
	DefaultConnectTimeout = 15 * time.Second
	DefaultInboxSize      = 256
)

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = window.DefaultLength
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RetryInterval < 0 {
		o.RetryInterval = 0
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	return o
}

// event is one stream callback tagged with its subscription generation.
type event struct {
	gen    uint64
	msgs   []ws.WSMessage
	status ws.Status
	err    error
	isMsg  bool
}

type subscription struct {
	gen    uint64
	cancel context.CancelFunc
	stream Stream
}

// subHandler forwards one subscription's callbacks into the session inbox.
// Sends block while the inbox is full and are abandoned once the
// subscription is cancelled.
type subHandler struct {
	gen   uint64
	ctx   context.Context
	inbox chan<- event
}

func (h *subHandler) HandleMessages(msgs []ws.WSMessage) {
	h.send(event{gen: h.gen, msgs: msgs, isMsg: true})
}

func (h *subHandler) HandleStatus(status ws.Status, err error) {
	h.send(event{gen: h.gen, status: status, err: err})
}

func (h *subHandler) send(ev event) {
	select {
	case h.inbox <- ev:
	case <-h.ctx.Done():
	}
}

// Session owns the order books of the current window. All mutation happens
// on the goroutine running Run; readers use View.
type Session struct {
	resolver Resolver
	dialer   StreamDialer
	opts     Options
	windows  window.Clock
	clock    Clock
	store    *orderbook.Store
	inbox    chan event

	view    atomic.Pointer[View]
	running atomic.Bool

	// owned by the Run goroutine
	state    State
	status   string
	notice   string
	err      error
	attempt  string
	win      window.Window
	slug     string
	market   *market.Market
	gen      uint64
	sub      *subscription
	rollover Timer
	retry    Timer
}

// New creates a session. It does nothing until Run.
func New(resolver Resolver, dialer StreamDialer, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		resolver: resolver,
		dialer:   dialer,
		opts:     opts,
		windows:  window.NewClock(opts.Window),
		clock:    opts.Clock,
		store:    orderbook.NewStore(),
		inbox:    make(chan event, opts.InboxSize),
		state:    StateIdle,
		status:   StatusIdle,
	}
	s.win = s.windows.Current(s.clock.Now())
	s.publish()
	return s
}

// View returns the latest published view with the countdown to the next
// window boundary computed now.
func (s *Session) View() View {
	v := *s.view.Load()
	now := s.clock.Now()
	v.Now = now
	v.Remaining = s.windows.UntilNext(now)
	v.Countdown = window.FormatCountdown(v.Remaining)
	return v
}

// Run follows the market until ctx is cancelled and returns ctx.Err().
// Resolve and stream failures are reported through View, never returned.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.shutdown()

	s.armRollover()
	s.startWindow(ctx, s.windows.CurrentStart(s.clock.Now()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timerC(s.rollover):
			s.rollover = nil
			s.rollOver(ctx)

		case <-timerC(s.retry):
			s.retry = nil
			s.retryWindow(ctx)

		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func (s *Session) logger() *slog.Logger {
	return telemetry.L().With("slug", s.slug, "window", s.win.Start, "gen", s.gen)
}

func (s *Session) armRollover() {
	if s.rollover != nil {
		s.rollover.Stop()
	}
	d := s.windows.UntilNext(s.clock.Now()) + s.opts.SettleDelay
	s.rollover = s.clock.NewTimer(d)
}

// armRetry schedules a retry of the current window unless it would land
// after the next rollover.
func (s *Session) armRetry() {
	s.stopRetry()
	if s.opts.RetryInterval <= 0 {
		return
	}
	now := s.clock.Now()
	if s.opts.RetryInterval >= s.windows.UntilNext(now)+s.opts.SettleDelay {
		return
	}
	s.retry = s.clock.NewTimer(s.opts.RetryInterval)
}

func (s *Session) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) rollOver(ctx context.Context) {
	telemetry.Metrics.Rollovers.Inc()
	s.logger().Info("window ended, rolling over")
	s.setState(StateRollingOver, StatusRollingOver)

	s.armRollover()
	s.startWindow(ctx, s.windows.CurrentStart(s.clock.Now()))
}

func (s *Session) retryWindow(ctx context.Context) {
	if s.state != StateErrored {
		return
	}
	s.logger().Info("retrying window", "after", s.opts.RetryInterval)
	s.startWindow(ctx, s.win.Start)
}

// startWindow discards everything about the previous window, resolves the
// market for start and opens its stream.
func (s *Session) startWindow(ctx context.Context, start int64) {
	s.teardown()
	s.stopRetry()
	s.store.Clear()

	s.win = window.Window{Start: start, Length: s.windows.Length}
	s.slug = s.resolver.BuildSlug(start)
	s.market = nil
	s.err = nil
	s.notice = ""
	s.attempt = uuid.NewString()

	s.setState(StateResolving, StatusFetching)
	s.logger().Info("resolving market", "attempt", s.attempt)

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	began := time.Now()
	m, err := s.resolver.ResolveWindow(fetchCtx, start)
	telemetry.Metrics.ResolveSeconds.Observe(time.Since(began).Seconds())
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.Metrics.ResolveErrors.WithLabelValues(resolveErrorKind(err)).Inc()
		s.fail(fmt.Errorf("resolving %s: %w", s.slug, err))
		return
	}

	s.market = m
	if !m.AcceptingOrders {
		s.notice = NoticeNotAccepting
		s.logger().Warn("market not accepting orders")
	}
	s.logger().Info("market resolved",
		"title", m.Title,
		"outcomes", m.Labels(),
		"tokens", m.TokenIDs())

	s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) {
	s.gen++
	subCtx, cancel := context.WithCancel(ctx)
	h := &subHandler{gen: s.gen, ctx: subCtx, inbox: s.inbox}
	s.sub = &subscription{
		gen:    s.gen,
		cancel: cancel,
		stream: s.dialer.NewStream(h),
	}

	s.setState(StateConnecting, StatusConnecting)

	dialCtx, stop := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	err := s.sub.stream.Connect(dialCtx)
	stop()
	if err != nil {
		s.teardown()
		if ctx.Err() != nil {
			return
		}
		telemetry.Metrics.ResolveErrors.WithLabelValues("connect").Inc()
		s.fail(fmt.Errorf("connecting stream: %w", err))
	}
}

// teardown stops the current subscription. Once it returns the old stream
// can no longer deliver events, and anything it already queued carries a
// superseded generation.
func (s *Session) teardown() {
	if s.sub == nil {
		return
	}
	s.sub.cancel()
	if err := s.sub.stream.Close(); err != nil {
		s.logger().Debug("closing stream", "error", err)
	}
	s.sub = nil
}

func (s *Session) fail(err error) {
	s.err = err
	s.logger().Error("window failed", "error", err)
	s.armRetry()
	s.setState(StateErrored, "Error: "+err.Error())
}

func (s *Session) shutdown() {
	s.teardown()
	s.stopRetry()
	if s.rollover != nil {
		s.rollover.Stop()
		s.rollover = nil
	}
	s.setState(StateStopped, StatusStopped)
}

func (s *Session) handle(ev event) {
	if s.sub == nil || ev.gen != s.sub.gen {
		telemetry.Metrics.StaleEvents.Inc()
		return
	}

	if ev.isMsg {
		s.applyMessages(ev.msgs)
		return
	}

	telemetry.Metrics.StreamStatus.WithLabelValues(ev.status.String()).Inc()
	switch ev.status {
	case ws.StatusConnected:
		s.setState(StateStreaming, StatusSubscribing)
		if err := s.sub.stream.Subscribe(s.market.TokenIDs()); err != nil {
			s.err = &StreamError{Message: err.Error()}
			s.logger().Warn("subscribe failed", "error", err)
			s.publish()
			return
		}
		s.err = nil
		s.logger().Info("subscribed", "tokens", s.market.TokenIDs())

	case ws.StatusDisconnected:
		s.err = fmt.Errorf("%w: %v", ErrStreamDisconnected, ev.err)
		s.logger().Warn("stream disconnected", "error", ev.err)
		s.setState(StateConnecting, StatusDisconnected)

	case ws.StatusError:
		msg := "unknown"
		if ev.err != nil {
			msg = ev.err.Error()
		}
		s.err = &StreamError{Message: msg}
		s.logger().Warn("stream error", "error", ev.err)
		s.publish()
	}
}

func (s *Session) applyMessages(msgs []ws.WSMessage) {
	applied := false
	for i := range msgs {
		msg := &msgs[i]
		switch msg.EventType {
		case ws.EventTypeBook:
			if !s.market.HasToken(msg.AssetID) {
				s.drop("unknown_token", "book for unknown token", "token", msg.AssetID)
				continue
			}
			if err := s.store.ReplaceSnapshot(msg.AssetID, msg.Bids, msg.Asks); err != nil {
				for _, lerr := range unjoin(err) {
					s.drop(dropReason(lerr), "invalid snapshot level", "token", msg.AssetID, "error", lerr)
				}
			}
			telemetry.Metrics.Snapshots.Inc()
			applied = true

		case ws.EventTypePriceChange:
			for _, pc := range msg.PriceChanges {
				token := pc.TokenID(msg)
				if !s.market.HasToken(token) {
					s.drop("unknown_token", "price change for unknown token", "token", token)
					continue
				}
				side, err := orderbook.ParseSide(pc.Side)
				if err != nil {
					s.drop(dropReason(err), "invalid price change", "token", token, "error", err)
					continue
				}
				if err := s.store.ApplyDelta(token, side, pc.Price, pc.Size); err != nil {
					s.drop(dropReason(err), "invalid price change", "token", token, "error", err)
					continue
				}
				telemetry.Metrics.DeltasApplied.Inc()
				applied = true
			}
		}
	}

	if !applied {
		return
	}
	telemetry.Metrics.BookLevels.Set(float64(s.store.Levels()))
	if s.state == StateStreaming && s.status != StatusReceiving {
		s.status = StatusReceiving
	}
	s.publish()
}

func (s *Session) drop(reason, msg string, args ...any) {
	telemetry.Metrics.DeltasDropped.WithLabelValues(reason).Inc()
	s.logger().Debug(msg, args...)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrNegativeSize):
		return "negative_size"
	case errors.Is(err, orderbook.ErrUnknownSide):
		return "unknown_side"
	default:
		return "invalid_level"
	}
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func resolveErrorKind(err error) string {
	switch {
	case errors.Is(err, market.ErrNotFound):
		return "not_found"
	case errors.Is(err, market.ErrMalformedResponse):
		return "malformed"
	default:
		return "network"
	}
}

func (s *Session) setState(state State, status string) {
	s.state = state
	s.status = status
	telemetry.Metrics.SessionState.Set(float64(state))
	s.publish()
}

// publish replaces the shared view with a fresh immutable copy.
func (s *Session) publish() {
	v := &View{
		State:     s.state,
		Status:    s.status,
		Notice:    s.notice,
		Err:       s.err,
		Attempt:   s.attempt,
		Window:    s.win,
		Slug:      s.slug,
		Market:    s.market,
		UpdatedAt: s.clock.Now(),
	}
	if s.market != nil {
		v.Books = s.store.Snapshots(s.market.TokenIDs()...)
	}
	s.view.Store(v)
}
