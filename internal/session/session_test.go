package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/types"
	"github.com/johan/polymarket-orderbook-watcher/internal/ws"
)

const boundary = int64(1767186000) // aligned to 15 minutes

// fakeClock is a manual clock; Advance fires every timer that has come due.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	durations []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	c       chan time.Time
	at      time.Time
	stopped bool
	fired   bool
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, c: make(chan time.Time, 1), at: c.now.Add(d)}
	c.timers = append(c.timers, t)
	c.durations = append(c.durations, d)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			t.c <- c.now
		}
	}
}

func (c *fakeClock) Durations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.durations...)
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type resolveResult struct {
	market *market.Market
	err    error
}

// fakeResolver hands out queued results; once the queue is empty it
// returns a fresh market per window.
type fakeResolver struct {
	mu      sync.Mutex
	calls   []int64
	results []resolveResult
}

func (r *fakeResolver) BuildSlug(start int64) string {
	return fmt.Sprintf("btc-updown-15m-%d", start)
}

func (r *fakeResolver) ResolveWindow(ctx context.Context, start int64) (*market.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, start)
	if len(r.results) > 0 {
		res := r.results[0]
		r.results = r.results[1:]
		if res.market != nil {
			res.market.WindowStart = start
		}
		return res.market, res.err
	}
	return testMarket(start, fmt.Sprintf("up-%d", start), fmt.Sprintf("down-%d", start), true), nil
}

func (r *fakeResolver) Calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.calls...)
}

func testMarket(start int64, up, down string, accepting bool) *market.Market {
	return &market.Market{
		Slug:            fmt.Sprintf("btc-updown-15m-%d", start),
		Title:           "Bitcoin Up or Down",
		AcceptingOrders: accepting,
		WindowStart:     start,
		Outcomes: [2]market.Outcome{
			{Label: "Up", TokenID: up},
			{Label: "Down", TokenID: down},
		},
	}
}

type fakeStream struct {
	mu         sync.Mutex
	h          StreamHandler
	connectErr error
	connects   int
	subs       [][]string
	closed     bool
}

func (s *fakeStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *fakeStream) Subscribe(tokenIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, append([]string(nil), tokenIDs...))
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Subs() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.subs...)
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu         sync.Mutex
	streams    []*fakeStream
	connectErr error
}

func (d *fakeDialer) NewStream(h StreamHandler) Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{h: h, connectErr: d.connectErr}
	d.streams = append(d.streams, s)
	return s
}

func (d *fakeDialer) Streams() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	sess     *Session
	clock    *fakeClock
	resolver *fakeResolver
	dialer   *fakeDialer
	cancel   context.CancelFunc
	done     chan struct{}
	err      error // valid once done is closed
}

func startSession(t *testing.T, opts Options, resolver *fakeResolver, dialer *fakeDialer) *harness {
	t.Helper()
	clock := newFakeClock(time.Unix(boundary+60, 0))
	opts.Clock = clock
	if opts.Window == 0 {
		opts.Window = 15 * time.Minute
	}

	sess := New(resolver, dialer, opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{sess: sess, clock: clock, resolver: resolver, dialer: dialer, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.err = sess.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func (h *harness) waitStreams(t *testing.T, n int) *fakeStream {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d streams", n), func() bool { return len(h.dialer.Streams()) >= n })
	return h.dialer.Streams()[n-1]
}

func (h *harness) waitState(t *testing.T, want State) View {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return h.sess.View().State == want })
	return h.sess.View()
}

func bookMsg(token string, bids, asks []types.PriceLevel) ws.WSMessage {
	return ws.WSMessage{EventType: ws.EventTypeBook, AssetID: token, Bids: bids, Asks: asks}
}

func lv(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: price, Size: size}
}

func TestSession_StreamsBooks(t *testing.T) {
	h := startSession(t, Options{SettleDelay: 2 * time.Second}, &fakeResolver{
		results: []resolveResult{{market: testMarket(boundary, "a", "b", true)}},
	}, &fakeDialer{})

	st := h.waitStreams(t, 1)
	h.waitState(t, StateConnecting)

	if d := h.clock.Durations(); len(d) == 0 || d[0] != 842*time.Second {
		t.Errorf("rollover timer = %v, want first 842s", d)
	}

	st.h.HandleStatus(ws.StatusConnected, nil)
	v := h.waitState(t, StateStreaming)
	if v.Status != StatusSubscribing {
		t.Errorf("Status = %q, want %q", v.Status, StatusSubscribing)
	}
	if subs := st.Subs(); len(subs) != 1 || len(subs[0]) != 2 || subs[0][0] != "a" || subs[0][1] != "b" {
		t.Fatalf("subscriptions = %v", subs)
	}

	st.h.HandleMessages([]ws.WSMessage{
		bookMsg("a", []types.PriceLevel{lv("0.48", "30"), lv("0.49", "20")}, []types.PriceLevel{lv("0.52", "25")}),
	})
	waitFor(t, "snapshot", func() bool { return len(h.sess.View().Book(0).Bids) == 2 })

	v = h.sess.View()
	if v.Status != StatusReceiving {
		t.Errorf("Status = %q, want %q", v.Status, StatusReceiving)
	}
	if got := v.Book(0).Bids[0].Price.String(); got != "0.49" {
		t.Errorf("best bid = %s, want 0.49", got)
	}

	st.h.HandleMessages([]ws.WSMessage{{
		EventType: ws.EventTypePriceChange,
		AssetID:   "b",
		PriceChanges: []ws.PriceChange{
			{AssetID: "a", Side: "SELL", Price: "0.52", Size: "0"},
			{Side: "BUY", Price: "0.40", Size: "10"},
			{AssetID: "zzz", Side: "BUY", Price: "0.10", Size: "1"},
			{AssetID: "a", Side: "BUY", Price: "0.48", Size: "-5"},
			{AssetID: "a", Side: "HOLD", Price: "0.48", Size: "5"},
		},
	}})
	waitFor(t, "deltas", func() bool { return len(h.sess.View().Book(1).Bids) == 1 })

	v = h.sess.View()
	if n := len(v.Book(0).Asks); n != 0 {
		t.Errorf("token a asks = %d, want 0", n)
	}
	if got := v.Book(0).Bids[1].Size.String(); got != "30" {
		t.Errorf("rejected delta changed level: size = %s, want 30", got)
	}
	if got := v.Book(1).Bids[0].Price.String(); got != "0.4" {
		t.Errorf("fallback token bid = %s, want 0.4", got)
	}
	if v.Err != nil {
		t.Errorf("Err = %v, want nil", v.Err)
	}
}

func TestSession_SnapshotWithInvalidLevelStillReplaces(t *testing.T) {
	h := startSession(t, Options{}, &fakeResolver{
		results: []resolveResult{{market: testMarket(boundary, "a", "b", true)}},
	}, &fakeDialer{})

	st := h.waitStreams(t, 1)
	h.waitState(t, StateConnecting)
	st.h.HandleStatus(ws.StatusConnected, nil)
	h.waitState(t, StateStreaming)

	st.h.HandleMessages([]ws.WSMessage{bookMsg("a", []types.PriceLevel{lv("0.30", "5")}, nil)})
	waitFor(t, "first snapshot", func() bool { return len(h.sess.View().Book(0).Bids) == 1 })

	st.h.HandleMessages([]ws.WSMessage{
		bookMsg("a", []types.PriceLevel{lv("0.50", "10"), lv("0.49", "-1")}, []types.PriceLevel{lv("nope", "1")}),
	})
	waitFor(t, "second snapshot", func() bool {
		b := h.sess.View().Book(0)
		return len(b.Bids) == 1 && b.Bids[0].Price.String() == "0.5"
	})

	b := h.sess.View().Book(0)
	if got := b.Bids[0].Size.String(); got != "10" {
		t.Errorf("bid size = %s, want 10", got)
	}
	if len(b.Asks) != 0 {
		t.Errorf("asks = %v, want none", b.Asks)
	}
}

func TestSession_RolloverClearsBooksAndResubscribes(t *testing.T) {
	h := startSession(t, Options{SettleDelay: 2 * time.Second}, &fakeResolver{}, &fakeDialer{})

	old := h.waitStreams(t, 1)
	old.h.HandleStatus(ws.StatusConnected, nil)
	h.waitState(t, StateStreaming)

	oldUp := fmt.Sprintf("up-%d", boundary)
	old.h.HandleMessages([]ws.WSMessage{bookMsg(oldUp, []types.PriceLevel{lv("0.5", "1")}, nil)})
	waitFor(t, "old snapshot", func() bool { return len(h.sess.View().Book(0).Bids) == 1 })

	h.clock.Advance(842 * time.Second)

	next := h.waitStreams(t, 2)
	if !old.Closed() {
		t.Error("previous stream not closed on rollover")
	}
	if calls := h.resolver.Calls(); len(calls) != 2 || calls[1] != boundary+900 {
		t.Errorf("resolver calls = %v, want second window %d", calls, boundary+900)
	}

	v := h.waitState(t, StateConnecting)
	if v.Window.Start != boundary+900 {
		t.Errorf("Window.Start = %d, want %d", v.Window.Start, boundary+900)
	}
	for i := range v.Books {
		if !v.Books[i].Empty() {
			t.Errorf("book %d survived rollover: %+v", i, v.Books[i])
		}
	}

	// the superseded stream can no longer reach the store
	old.h.HandleMessages([]ws.WSMessage{bookMsg(oldUp, []types.PriceLevel{lv("0.6", "1")}, nil)})

	next.h.HandleStatus(ws.StatusConnected, nil)
	h.waitState(t, StateStreaming)
	newUp := fmt.Sprintf("up-%d", boundary+900)
	if subs := next.Subs(); len(subs) != 1 || subs[0][0] != newUp {
		t.Errorf("subscriptions = %v, want new window tokens", subs)
	}
	if len(old.Subs()) != 1 {
		t.Errorf("old stream resubscribed: %v", old.Subs())
	}

	// rearmed from the next boundary, not from the previous deadline
	if d := h.clock.Durations(); len(d) < 2 || d[1] != 900*time.Second {
		t.Errorf("timer durations = %v, want second 900s", d)
	}

	v = h.sess.View()
	if v.Market == nil || v.Market.HasToken(oldUp) {
		t.Errorf("view still shows old market: %+v", v.Market)
	}
	for i := range v.Books {
		if !v.Books[i].Empty() {
			t.Errorf("stale event reached book %d: %+v", i, v.Books[i])
		}
	}
}

func TestSession_NotAcceptingOrders(t *testing.T) {
	h := startSession(t, Options{}, &fakeResolver{
		results: []resolveResult{{market: testMarket(boundary, "a", "b", false)}},
	}, &fakeDialer{})

	st := h.waitStreams(t, 1)
	st.h.HandleStatus(ws.StatusConnected, nil)
	v := h.waitState(t, StateStreaming)

	if v.Notice != NoticeNotAccepting {
		t.Errorf("Notice = %q, want %q", v.Notice, NoticeNotAccepting)
	}
	if v.Err != nil {
		t.Errorf("Err = %v, want nil", v.Err)
	}
}

func TestSession_ResolveFailureWaitsForNextWindow(t *testing.T) {
	h := startSession(t, Options{SettleDelay: 2 * time.Second}, &fakeResolver{
		results: []resolveResult{{err: fmt.Errorf("btc-updown-15m-%d: %w", boundary, market.ErrNotFound)}},
	}, &fakeDialer{})

	v := h.waitState(t, StateErrored)
	if !errors.Is(v.Err, market.ErrNotFound) {
		t.Errorf("Err = %v, want ErrNotFound", v.Err)
	}
	if n := len(h.dialer.Streams()); n != 0 {
		t.Errorf("streams = %d, want 0", n)
	}
	if d := h.clock.Durations(); len(d) != 1 {
		t.Errorf("timers = %v, want only the rollover timer", d)
	}

	h.clock.Advance(842 * time.Second)
	h.waitStreams(t, 1)
	v = h.waitState(t, StateConnecting)
	if v.Err != nil || v.Window.Start != boundary+900 {
		t.Errorf("after rollover: Err=%v Window=%d", v.Err, v.Window.Start)
	}
}

func TestSession_RetryWithinWindow(t *testing.T) {
	h := startSession(t, Options{RetryInterval: 30 * time.Second}, &fakeResolver{
		results: []resolveResult{{err: market.ErrNetwork}},
	}, &fakeDialer{})

	h.waitState(t, StateErrored)
	h.clock.Advance(30 * time.Second)

	h.waitStreams(t, 1)
	if calls := h.resolver.Calls(); len(calls) != 2 || calls[0] != boundary || calls[1] != boundary {
		t.Errorf("resolver calls = %v, want the same window twice", calls)
	}
}

func TestSession_RetryNeverPastRollover(t *testing.T) {
	h := startSession(t, Options{RetryInterval: 20 * time.Minute}, &fakeResolver{
		results: []resolveResult{{err: market.ErrNetwork}},
	}, &fakeDialer{})

	h.waitState(t, StateErrored)
	if d := h.clock.Durations(); len(d) != 1 {
		t.Errorf("timers = %v, want no retry timer", d)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	h := startSession(t, Options{}, &fakeResolver{}, &fakeDialer{connectErr: dialErr})

	st := h.waitStreams(t, 1)
	v := h.waitState(t, StateErrored)
	if !errors.Is(v.Err, dialErr) {
		t.Errorf("Err = %v, want dial error", v.Err)
	}
	if !st.Closed() {
		t.Error("failed stream not closed")
	}
}

func TestSession_DisconnectAndResubscribe(t *testing.T) {
	h := startSession(t, Options{}, &fakeResolver{}, &fakeDialer{})

	st := h.waitStreams(t, 1)
	st.h.HandleStatus(ws.StatusConnected, nil)
	h.waitState(t, StateStreaming)

	st.h.HandleStatus(ws.StatusDisconnected, errors.New("read: connection reset"))
	v := h.waitState(t, StateConnecting)
	if v.Status != StatusDisconnected {
		t.Errorf("Status = %q, want %q", v.Status, StatusDisconnected)
	}
	if !errors.Is(v.Err, ErrStreamDisconnected) {
		t.Errorf("Err = %v, want ErrStreamDisconnected", v.Err)
	}

	st.h.HandleStatus(ws.StatusConnected, nil)
	h.waitState(t, StateStreaming)
	if n := len(st.Subs()); n != 2 {
		t.Errorf("subscriptions = %d, want 2", n)
	}

	st.h.HandleStatus(ws.StatusError, errors.New("parsing websocket message: invalid JSON"))
	waitFor(t, "stream error", func() bool {
		var se *StreamError
		return errors.As(h.sess.View().Err, &se)
	})
	if h.sess.View().State != StateStreaming {
		t.Error("a frame error changed the session state")
	}
}

func TestSession_StopClosesStream(t *testing.T) {
	h := startSession(t, Options{}, &fakeResolver{}, &fakeDialer{})
	st := h.waitStreams(t, 1)

	h.cancel()
	select {
	case <-h.done:
		if !errors.Is(h.err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", h.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !st.Closed() {
		t.Error("stream not closed on shutdown")
	}
	if v := h.sess.View(); v.State != StateStopped {
		t.Errorf("State = %v, want stopped", v.State)
	}
}

func TestSession_StaleGenerationDropped(t *testing.T) {
	clock := newFakeClock(time.Unix(boundary+60, 0))
	s := New(&fakeResolver{}, &fakeDialer{}, Options{Clock: clock})
	s.market = testMarket(boundary, "a", "b", true)
	s.sub = &subscription{gen: 2, cancel: func() {}, stream: &fakeStream{}}
	s.state = StateStreaming

	msgs := []ws.WSMessage{bookMsg("a", []types.PriceLevel{lv("0.5", "1")}, nil)}
	s.handle(event{gen: 1, msgs: msgs, isMsg: true})
	if !s.store.Snapshot("a").Empty() {
		t.Fatal("event from superseded generation was applied")
	}

	s.handle(event{gen: 2, msgs: msgs, isMsg: true})
	if s.store.Snapshot("a").Empty() {
		t.Fatal("event from current generation was dropped")
	}
}

func TestSession_ViewCountdownAtReadTime(t *testing.T) {
	clock := newFakeClock(time.Unix(boundary+60, 0))
	s := New(&fakeResolver{}, &fakeDialer{}, Options{Clock: clock})

	v := s.View()
	if v.State != StateIdle || v.Countdown != "14:00" {
		t.Errorf("View() = state %v countdown %q, want idle 14:00", v.State, v.Countdown)
	}

	clock.Advance(30*time.Second + 500*time.Millisecond)
	if got := s.View().Countdown; got != "13:29" {
		t.Errorf("Countdown = %q, want 13:29", got)
	}
}

func TestSession_RunTwice(t *testing.T) {
	h := startSession(t, Options{}, &fakeResolver{}, &fakeDialer{})
	h.waitStreams(t, 1)
	if err := h.sess.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}
