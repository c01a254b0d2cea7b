// Package relay implements the shared relay connection pool: per-relay
// connection lifecycle with reconnect backoff, a subscription multiplexer
// with event de-duplication and EOSE-aware termination, and fan-out
// publishing with per-relay OK aggregation.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// State is one relay connection's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed // max reconnect attempts exhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnStats carries per-relay counters exposed through the pool status API.
type ConnStats struct {
	EventsReceived int64
	FramesDropped  int64
	Reconnects     int64
	ConnectedAt    time.Time
	LastEventAt    time.Time
	LastError      string
}

const sendQueueCap = 256

// Connection owns one relay's WebSocket lifecycle. The pool holds the only
// strong reference; the connection reaches back into the pool through the
// onState callback, which only schedules work.
type Connection struct {
	URL string

	opts    Options
	onState func(c *Connection, s State)

	mu       sync.Mutex
	state    State
	relay    *nostr.Relay
	stats    ConnStats
	attempts int

	// Outbound raw frames queued while not connected. Overflow drops the
	// oldest frame and bumps FramesDropped.
	sendQueue [][]byte
}

func newConnection(url string, opts Options, onState func(*Connection, State)) *Connection {
	return &Connection{URL: url, opts: opts, onState: onState}
}

// State returns the connection's current lifecycle phase.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Relay returns the underlying socket, or nil when not connected.
func (c *Connection) Relay() *nostr.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.relay
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(c, s)
	}
}

// run drives the Disconnected → Connecting → Connected → Reconnecting
// machine until ctx is cancelled or the attempt budget is exhausted.
func (c *Connection) run(ctx context.Context) {
	delay := c.opts.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			c.close()
			c.setState(StateDisconnected)
			return
		default:
		}

		c.setState(StateConnecting)
		cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		relay, err := nostr.RelayConnect(cctx, c.URL)
		cancel()

		if err != nil {
			c.mu.Lock()
			c.stats.LastError = err.Error()
			c.attempts++
			attempts := c.attempts
			c.mu.Unlock()
			slog.Warn("relay connect failed", "relay", c.URL, "attempt", attempts, "error", err)

			if c.opts.MaxReconnectAttempts > 0 && attempts >= c.opts.MaxReconnectAttempts {
				c.setState(StateFailed)
				return
			}
			c.setState(StateReconnecting)
			if !sleepCtx(ctx, delay) {
				c.setState(StateDisconnected)
				return
			}
			delay = nextBackoff(delay, c.opts.MaxReconnectDelay)
			continue
		}

		c.mu.Lock()
		c.relay = relay
		c.attempts = 0
		c.stats.ConnectedAt = time.Now()
		c.stats.LastError = ""
		queued := c.sendQueue
		c.sendQueue = nil
		c.mu.Unlock()

		// Flush frames queued while offline, oldest first.
		for _, frame := range queued {
			relay.Write(frame)
		}

		delay = c.opts.ReconnectDelay // successful connect resets backoff
		slog.Info("relay connected", "relay", c.URL)
		c.setState(StateConnected)

		// Block until the socket dies or we are shut down. The monitor tick
		// catches silent half-open sockets the read loop misses.
		c.supervise(ctx, relay)

		c.mu.Lock()
		c.relay = nil
		c.stats.Reconnects++
		if err := relay.ConnectionError; err != nil {
			c.stats.LastError = err.Error()
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		default:
		}

		slog.Warn("relay disconnected", "relay", c.URL, "error", relay.ConnectionError)
		c.setState(StateReconnecting)
		if !sleepCtx(ctx, delay) {
			c.setState(StateDisconnected)
			return
		}
		delay = nextBackoff(delay, c.opts.MaxReconnectDelay)
	}
}

// supervise returns when the relay socket closes, the silence threshold is
// exceeded, or ctx is cancelled.
func (c *Connection) supervise(ctx context.Context, relay *nostr.Relay) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			relay.Close()
			return
		case <-relay.Context().Done():
			return
		case <-ticker.C:
			// go-nostr's own ping loop tears the socket down after missed
			// pongs; this tick catches the half-open case where the read
			// loop is gone but the relay context has not fired yet.
			if !relay.IsConnected() {
				relay.Close()
				return
			}
		}
	}
}

// send writes a raw frame if connected, otherwise queues it (bounded,
// drop-oldest).
func (c *Connection) send(frame []byte) {
	c.mu.Lock()
	relay := c.relay
	if c.state != StateConnected || relay == nil {
		if len(c.sendQueue) >= sendQueueCap {
			c.sendQueue = c.sendQueue[1:]
			c.stats.FramesDropped++
		}
		c.sendQueue = append(c.sendQueue, frame)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	relay.Write(frame)
}

func (c *Connection) noteEvent() {
	c.mu.Lock()
	c.stats.EventsReceived++
	c.stats.LastEventAt = time.Now()
	c.mu.Unlock()
}

func (c *Connection) close() {
	c.mu.Lock()
	relay := c.relay
	c.relay = nil
	c.mu.Unlock()
	if relay != nil {
		relay.Close()
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx sleeps for d, returning false if ctx fired first. Cancelling
// mid-backoff preempts the sleep.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
