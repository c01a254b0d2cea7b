package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

var (
	// ErrPublishFailed means no relay accepted the event.
	ErrPublishFailed = errors.New("no relay accepted the event")
	// ErrNoRelays means the pool has no connected relays to talk to.
	ErrNoRelays = errors.New("no connected relays")
)

// EventMiddleware observes every verified, de-duplicated event the pool
// delivers, before the subscription handler runs. The composition root
// uses it to feed the addressable store.
type EventMiddleware func(ev *nostr.Event, relayURL string)

// Pool owns the set of relay connections and multiplexes subscriptions
// and publishes across them. Construct with New, then Start; the first
// caller gets a usable (possibly degraded) pool immediately while
// connection work runs in the background.
type Pool struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*Connection
	subs  map[string]*Subscription
	ctx   context.Context

	eventMiddleware EventMiddleware
	authSigner      func(*nostr.Event) error
	onRelaysChanged func(urls []string)
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithEventMiddleware registers a middleware invoked for every delivered
// event.
func WithEventMiddleware(mw EventMiddleware) Option {
	return func(p *Pool) { p.eventMiddleware = mw }
}

// WithAuthSigner supplies a NIP-42 authenticator. Without one, AUTH
// challenges are logged and ignored.
func WithAuthSigner(sign func(*nostr.Event) error) Option {
	return func(p *Pool) { p.authSigner = sign }
}

// WithRelaysChanged registers a callback fired with the full relay URL
// list whenever it changes, so the caller can persist it.
func WithRelaysChanged(fn func(urls []string)) Option {
	return func(p *Pool) { p.onRelaysChanged = fn }
}

// New creates a pool over the given relay URLs. Nothing connects until
// Start.
func New(urls []string, opts Options, poolOpts ...Option) *Pool {
	p := &Pool{
		opts:  opts.withDefaults(),
		conns: make(map[string]*Connection),
		subs:  make(map[string]*Subscription),
	}
	for _, opt := range poolOpts {
		opt(p)
	}
	for _, url := range urls {
		url = nostr.NormalizeURL(url)
		if _, dup := p.conns[url]; dup {
			continue
		}
		p.conns[url] = newConnection(url, p.opts, p.connectionStateChanged)
	}
	return p
}

// Start launches the connection goroutines. It returns immediately;
// callers that need a connectivity floor use WaitForMinimumConnection.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		go c.run(ctx)
	}
}

// ─── Relay set management ─────────────────────────────────────────────────────

// AddRelay adds a relay to the pool and connects it. Returns false if
// already present.
func (p *Pool) AddRelay(url string) bool {
	url = nostr.NormalizeURL(url)
	p.mu.Lock()
	if _, exists := p.conns[url]; exists {
		p.mu.Unlock()
		return false
	}
	c := newConnection(url, p.opts, p.connectionStateChanged)
	p.conns[url] = c
	ctx := p.ctx
	p.mu.Unlock()

	if ctx != nil {
		go c.run(ctx)
	}
	p.notifyRelaysChanged()
	return true
}

// RemoveRelay removes a relay and closes its connection. Returns false if
// not found.
func (p *Pool) RemoveRelay(url string) bool {
	url = nostr.NormalizeURL(url)
	p.mu.Lock()
	c, exists := p.conns[url]
	if !exists {
		p.mu.Unlock()
		return false
	}
	delete(p.conns, url)
	p.mu.Unlock()

	c.close()
	p.notifyRelaysChanged()
	return true
}

// notifyRelaysChanged hands the persistence hook a fresh snapshot of the
// relay set.
func (p *Pool) notifyRelaysChanged() {
	if p.onRelaysChanged == nil {
		return
	}
	p.onRelaysChanged(p.Relays())
}

// Relays returns the configured relay URLs, sorted.
func (p *Pool) Relays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	urls := make([]string, 0, len(p.conns))
	for url := range p.conns {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// RelayStatus describes one relay for the admin API.
type RelayStatus struct {
	URL       string    `json:"url"`
	State     string    `json:"state"`
	Events    int64     `json:"events_received"`
	Dropped   int64     `json:"frames_dropped"`
	Reconnect int64     `json:"reconnects"`
	LastEvent time.Time `json:"last_event_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// RelayStatuses returns per-relay state for all configured relays.
func (p *Pool) RelayStatuses() []RelayStatus {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	statuses := make([]RelayStatus, 0, len(conns))
	for _, c := range conns {
		st := c.Stats()
		statuses = append(statuses, RelayStatus{
			URL:       c.URL,
			State:     c.State().String(),
			Events:    st.EventsReceived,
			Dropped:   st.FramesDropped,
			Reconnect: st.Reconnects,
			LastEvent: st.LastEventAt,
			LastError: st.LastError,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].URL < statuses[j].URL })
	return statuses
}

// TestRelay attempts a one-off WebSocket connection to a relay URL.
func (p *Pool) TestRelay(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	relay, err := nostr.RelayConnect(ctx, nostr.NormalizeURL(url))
	if err != nil {
		return err
	}
	relay.Close()
	return nil
}

// ─── Status & warm-up ─────────────────────────────────────────────────────────

// Status summarizes pool connectivity for the outer shell.
type Status struct {
	RelayCount     int `json:"relay_count"`
	ConnectedCount int `json:"connected_count"`
}

// Status reports how many relays are configured and connected.
func (p *Pool) Status() Status {
	return Status{RelayCount: p.relayCount(), ConnectedCount: len(p.connectedURLs())}
}

// WaitForMinimumConnection blocks until at least min relays are connected
// or the timeout elapses, and reports whether the floor was reached.
// Callers that cannot tolerate empty results pair every query with this.
func (p *Pool) WaitForMinimumConnection(ctx context.Context, min int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(p.connectedURLs()) >= min {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return len(p.connectedURLs()) >= min
		case <-ticker.C:
		}
	}
}

func (p *Pool) relayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// connectedURLs snapshots the URLs currently in the Connected state. The
// hot paths iterate this copy instead of holding the pool mutex.
func (p *Pool) connectedURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var urls []string
	for url, c := range p.conns {
		if c.State() == StateConnected {
			urls = append(urls, url)
		}
	}
	return urls
}

func (p *Pool) connectedConns() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var conns []*Connection
	for _, c := range p.conns {
		if c.State() == StateConnected {
			conns = append(conns, c)
		}
	}
	return conns
}

// pendingConns returns connections currently between attempts, the set
// eligible for queued redelivery.
func (p *Pool) pendingConns() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var conns []*Connection
	for _, c := range p.conns {
		switch c.State() {
		case StateConnecting, StateReconnecting:
			conns = append(conns, c)
		}
	}
	return conns
}

// ─── Subscribe ────────────────────────────────────────────────────────────────

// Subscribe fans one filter out to every connected relay and delivers each
// distinct event id to the handler exactly once. A zero deadline takes the
// pool default. Later-connecting relays pick the subscription up when they
// reach Connected.
func (p *Pool) Subscribe(ctx context.Context, filter nostr.Filter, handler Handler, deadline time.Duration) *Subscription {
	if deadline == 0 {
		deadline = p.opts.SubscriptionDeadline
	}
	sub := newSubscription(p, filter, handler, deadline)

	p.mu.Lock()
	p.subs[sub.ID] = sub
	p.mu.Unlock()

	for _, conn := range p.connectedConns() {
		go sub.attach(ctx, conn)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub
}

// FetchAll collects events for a filter until the subscription resolves
// (EOSE convergence or deadline), returning them in arrival order.
func (p *Pool) FetchAll(ctx context.Context, filter nostr.Filter, deadline time.Duration) []*nostr.Event {
	var mu sync.Mutex
	var events []*nostr.Event
	sub := p.Subscribe(ctx, filter, HandlerFunc(func(ev *nostr.Event, _ string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}), deadline)
	<-sub.Done()
	mu.Lock()
	defer mu.Unlock()
	return events
}

func (p *Pool) dropSubscription(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}

// connectionStateChanged replays active subscriptions onto connections
// that reach Connected. Runs on the connection goroutine; only schedules
// work.
func (p *Pool) connectionStateChanged(c *Connection, s State) {
	if s != StateConnected {
		return
	}
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	ctx := p.ctx
	p.mu.Unlock()

	if ctx == nil {
		return
	}
	for _, sub := range subs {
		go sub.attach(ctx, c)
	}
}

// ─── Publish ──────────────────────────────────────────────────────────────────

// Rejection names one relay's refusal of a published event.
type Rejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// PublishResult aggregates per-relay OK acks for one publish.
type PublishResult struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Success reports at-least-one-relay durability.
func (r PublishResult) Success() bool { return len(r.Accepted) >= 1 }

// Publish validates the signed event, sends it on every connected relay,
// and collects OK responses until publish_deadline. Relays that never
// respond are rejected with reason "no_ack". An all-rejected result
// returns ErrPublishFailed alongside the per-relay detail.
func (p *Pool) Publish(ctx context.Context, ev *nostr.Event) (PublishResult, error) {
	if err := protocol.VerifyEvent(ev); err != nil {
		return PublishResult{}, err
	}

	// Relays currently between connection attempts still get the event
	// eventually: the serialized frame is queued on the connection and
	// flushed over the socket on reconnect. Best-effort; these relays do
	// not count toward the result.
	if frame, err := protocol.BuildEventFrame(ev); err == nil {
		for _, conn := range p.pendingConns() {
			conn.send(frame)
			slog.Debug("queued event for redelivery", "relay", conn.URL, "id", ev.ID)
		}
	}

	conns := p.connectedConns()
	if len(conns) == 0 {
		return PublishResult{}, ErrNoRelays
	}

	type ack struct {
		url string
		err error
	}
	acks := make(chan ack, len(conns))
	pctx, cancel := context.WithTimeout(ctx, p.opts.PublishDeadline)
	defer cancel()

	for _, conn := range conns {
		go func(conn *Connection) {
			relay := conn.Relay()
			if relay == nil {
				acks <- ack{conn.URL, errors.New("disconnected")}
				return
			}
			acks <- ack{conn.URL, relay.Publish(pctx, *ev)}
		}(conn)
	}

	var result PublishResult
	for range conns {
		a := <-acks
		switch {
		case a.err == nil:
			result.Accepted = append(result.Accepted, a.url)
		case errors.Is(a.err, context.DeadlineExceeded) || errors.Is(a.err, context.Canceled):
			result.Rejected = append(result.Rejected, Rejection{a.url, "no_ack"})
		default:
			result.Rejected = append(result.Rejected, Rejection{a.url, okReason(a.err)})
		}
	}
	sort.Strings(result.Accepted)
	sort.Slice(result.Rejected, func(i, j int) bool { return result.Rejected[i].URL < result.Rejected[j].URL })

	if !result.Success() {
		slog.Warn("publish rejected everywhere", "id", ev.ID, "rejections", len(result.Rejected))
		return result, ErrPublishFailed
	}
	slog.Debug("published", "id", ev.ID, "kind", ev.Kind, "accepted", len(result.Accepted))
	return result, nil
}

// okReason strips go-nostr's "msg: " prefix from a NOK error so the raw
// relay reason string survives for classification.
func okReason(err error) string {
	reason := err.Error()
	if cut, ok := strings.CutPrefix(reason, "msg: "); ok {
		return cut
	}
	return reason
}
