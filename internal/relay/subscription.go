package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/protocol"
)

// Handler receives each event exactly once per distinct event id, in
// relay-arrival order. Handlers run synchronously on the delivering
// goroutine; heavy work must defer itself.
type Handler interface {
	HandleEvent(ev *nostr.Event, relayURL string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev *nostr.Event, relayURL string)

func (f HandlerFunc) HandleEvent(ev *nostr.Event, relayURL string) { f(ev, relayURL) }

// Subscription is the caller's handle over one logical subscription fanned
// out to every connected relay. It resolves — Done() closes — when the
// caller closes it, the deadline fires, or EOSE convergence is reached.
type Subscription struct {
	ID     string
	Filter nostr.Filter

	pool    *Pool
	handler Handler
	seen    *xsync.MapOf[string, struct{}]
	eose    *xsync.MapOf[string, struct{}]

	mu        sync.Mutex
	relaySubs map[string]*nostr.Subscription
	closed    bool

	done      chan struct{}
	closeOnce sync.Once
	timer     *time.Timer
}

func newSubscription(pool *Pool, filter nostr.Filter, handler Handler, deadline time.Duration) *Subscription {
	s := &Subscription{
		ID:        "fit-" + uuid.NewString()[:8],
		Filter:    filter,
		pool:      pool,
		handler:   handler,
		seen:      xsync.NewMapOf[string, struct{}](),
		eose:      xsync.NewMapOf[string, struct{}](),
		relaySubs: make(map[string]*nostr.Subscription),
		done:      make(chan struct{}),
	}
	if deadline > 0 {
		s.timer = time.AfterFunc(deadline, func() {
			slog.Debug("subscription deadline", "sub", s.ID)
			s.resolve()
		})
	}
	return s
}

// Done is closed when the subscription has resolved. Events may still
// trickle in briefly after resolution on other goroutines; the seen-id set
// keeps delivery at-most-once until Close.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close cancels the subscription promptly: CLOSE goes out on every
// connection, buffered callbacks are discarded, and the deadline timer is
// stopped.
func (s *Subscription) Close() { s.resolve() }

// EOSERelays returns the relays that have delivered end-of-stored-events.
func (s *Subscription) EOSERelays() []string {
	var urls []string
	s.eose.Range(func(url string, _ struct{}) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

func (s *Subscription) resolve() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		subs := make([]*nostr.Subscription, 0, len(s.relaySubs))
		for _, rs := range s.relaySubs {
			subs = append(subs, rs)
		}
		s.relaySubs = nil
		s.mu.Unlock()

		for _, rs := range subs {
			rs.Unsub()
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		s.pool.dropSubscription(s.ID)
		close(s.done)
	})
}

// attach opens this subscription on one connected relay. Called by the
// pool on subscribe and again whenever a connection (re)establishes.
func (s *Subscription) attach(ctx context.Context, conn *Connection) {
	relay := conn.Relay()
	if relay == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, active := s.relaySubs[conn.URL]; active {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	rsub, err := relay.Subscribe(ctx, nostr.Filters{s.Filter})
	if err != nil {
		slog.Debug("subscribe failed", "sub", s.ID, "relay", conn.URL, "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		rsub.Unsub()
		return
	}
	s.relaySubs[conn.URL] = rsub
	s.mu.Unlock()

	go s.drain(conn, rsub)
}

// drain pumps one relay's event stream into the handler, de-duplicating
// by event id across the whole subscription.
func (s *Subscription) drain(conn *Connection, rsub *nostr.Subscription) {
	defer func() {
		s.mu.Lock()
		if s.relaySubs != nil {
			delete(s.relaySubs, conn.URL)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.done:
			return
		case <-rsub.EndOfStoredEvents:
			s.eose.Store(conn.URL, struct{}{})
			if s.converged() {
				slog.Debug("eose convergence", "sub", s.ID)
				s.resolve()
				return
			}
		case reason := <-rsub.ClosedReason:
			if strings.HasPrefix(reason, "auth-required:") && s.pool.authSigner != nil {
				// One auth round; the pool's next connected notification
				// re-issues the REQ.
				if relay := conn.Relay(); relay != nil {
					if err := relay.Auth(context.Background(), s.pool.authSigner); err == nil {
						slog.Debug("authenticated after CLOSED", "relay", conn.URL)
					}
				}
			}
			slog.Debug("subscription closed by relay", "sub", s.ID, "relay", conn.URL, "reason", reason)
			return
		case ev, more := <-rsub.Events:
			if !more {
				return
			}
			if err := protocol.VerifyEvent(ev); err != nil {
				slog.Warn("dropping invalid event", "relay", conn.URL, "error", err)
				continue
			}
			if _, dup := s.seen.LoadOrStore(ev.ID, struct{}{}); dup {
				continue
			}
			conn.noteEvent()
			if mw := s.pool.eventMiddleware; mw != nil {
				mw(ev, conn.URL)
			}
			s.handler.HandleEvent(ev, conn.URL)
		}
	}
}

// converged reports whether every currently-connected relay has delivered
// EOSE and at least the configured floor of relays is in that set. Relays
// that disconnect mid-query drop out of the "connected" side and cannot
// stall the caller.
func (s *Subscription) converged() bool {
	connected := s.pool.connectedURLs()
	if len(connected) == 0 {
		return false
	}
	eosed := 0
	for _, url := range connected {
		if _, ok := s.eose.Load(url); !ok {
			return false
		}
		eosed++
	}
	return eosed >= s.pool.opts.minRelaysForEOSE(s.pool.relayCount())
}
