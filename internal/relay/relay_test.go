package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v", o.ConnectTimeout)
	}
	if o.ReconnectDelay != time.Second || o.MaxReconnectDelay != 10*time.Second {
		t.Errorf("backoff defaults = %v / %v", o.ReconnectDelay, o.MaxReconnectDelay)
	}
	if o.PublishDeadline != 4*time.Second {
		t.Errorf("PublishDeadline = %v", o.PublishDeadline)
	}
	if o.MaxReconnectAttempts != 0 {
		t.Errorf("MaxReconnectAttempts = %d, want unlimited", o.MaxReconnectAttempts)
	}
}

func TestMinRelaysForEOSE(t *testing.T) {
	tests := []struct {
		configured, n, want int
	}{
		{0, 1, 2}, // floor of 2
		{0, 2, 2},
		{0, 3, 2},
		{0, 4, 2},
		{0, 5, 3}, // ceil(5/2)
		{0, 8, 4},
		{3, 5, 3}, // explicit config wins
		{1, 10, 1},
	}
	for _, tt := range tests {
		o := Options{MinRelaysForEOSE: tt.configured}
		if got := o.minRelaysForEOSE(tt.n); got != tt.want {
			t.Errorf("minRelaysForEOSE(cfg=%d, n=%d) = %d, want %d", tt.configured, tt.n, got, tt.want)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		seen = append(seen, d)
		d = nextBackoff(d, 10*time.Second)
	}
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("backoff step %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestClassifyRejection(t *testing.T) {
	tests := []struct {
		reason string
		want   RejectReason
	}{
		{"duplicate: already have this event", RejectDuplicate},
		{"pow: 28 bits required", RejectPoW},
		{"blocked: you are banned", RejectBlocked},
		{"rate-limited: slow down", RejectRateLimited},
		{"invalid: event too old", RejectInvalid},
		{"no_ack", RejectNoAck},
		{"error: internal", RejectOther},
		{"", RejectOther},
	}
	for _, tt := range tests {
		if got := ClassifyRejection(tt.reason); got != tt.want {
			t.Errorf("ClassifyRejection(%q) = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func TestAllInvalid(t *testing.T) {
	invalidOnly := PublishResult{Rejected: []Rejection{
		{"wss://a", "invalid: bad sig"},
		{"wss://b", "invalid: too old"},
	}}
	if !allInvalid(invalidOnly) {
		t.Error("all-invalid result not recognized")
	}

	mixed := PublishResult{Rejected: []Rejection{
		{"wss://a", "invalid: bad sig"},
		{"wss://b", "rate-limited: slow down"},
	}}
	if allInvalid(mixed) {
		t.Error("mixed result treated as all-invalid")
	}

	if allInvalid(PublishResult{}) {
		t.Error("empty result treated as all-invalid")
	}
}

func TestOKReason(t *testing.T) {
	if got := okReason(errors.New("msg: rate-limited: slow down")); got != "rate-limited: slow down" {
		t.Errorf("okReason = %q", got)
	}
	if got := okReason(errors.New("write failed")); got != "write failed" {
		t.Errorf("okReason = %q", got)
	}
}

func TestSendQueueBounded(t *testing.T) {
	c := newConnection("wss://example.test", Options{}.withDefaults(), nil)
	for i := 0; i < sendQueueCap+40; i++ {
		c.send([]byte(fmt.Sprintf("frame-%d", i)))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendQueue) != sendQueueCap {
		t.Errorf("queue len = %d, want %d", len(c.sendQueue), sendQueueCap)
	}
	if c.stats.FramesDropped != 40 {
		t.Errorf("FramesDropped = %d, want 40", c.stats.FramesDropped)
	}
	// Oldest dropped first.
	if string(c.sendQueue[0]) != "frame-40" {
		t.Errorf("head of queue = %s, want frame-40", c.sendQueue[0])
	}
}

func TestPublishNoRelays(t *testing.T) {
	p := New([]string{"wss://a.test", "wss://b.test"}, Options{})
	sk := nostr.GeneratePrivateKey()
	ev := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "x"}
	if err := ev.Sign(sk); err != nil {
		t.Fatal(err)
	}
	_, err := p.Publish(context.Background(), &ev)
	if !errors.Is(err, ErrNoRelays) {
		t.Errorf("Publish with no connections: %v, want ErrNoRelays", err)
	}
}

func TestPublishRejectsUnsignedEvent(t *testing.T) {
	p := New([]string{"wss://a.test"}, Options{})
	ev := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "x", PubKey: "deadbeef"}
	if _, err := p.Publish(context.Background(), &ev); err == nil {
		t.Error("unverifiable event accepted for publish")
	}
}

func TestRelaysChangedCallback(t *testing.T) {
	var got [][]string
	p := New([]string{"wss://a.test"}, Options{}, WithRelaysChanged(func(urls []string) {
		got = append(got, urls)
	}))

	p.AddRelay("wss://b.test")
	p.AddRelay("wss://b.test") // duplicate must not fire
	p.RemoveRelay("wss://a.test")
	p.RemoveRelay("wss://a.test") // missing must not fire

	if len(got) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(got))
	}
	if len(got[0]) != 2 {
		t.Errorf("set after add = %v, want both relays", got[0])
	}
	if len(got[1]) != 1 || got[1][0] != nostr.NormalizeURL("wss://b.test") {
		t.Errorf("set after remove = %v", got[1])
	}
}

func TestPublishQueuesForReconnectingRelays(t *testing.T) {
	p := New([]string{"wss://a.test", "wss://b.test"}, Options{})
	conn := func(url string) *Connection {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.conns[nostr.NormalizeURL(url)]
	}
	a := conn("wss://a.test")
	a.mu.Lock()
	a.state = StateReconnecting
	a.mu.Unlock()

	sk := nostr.GeneratePrivateKey()
	ev := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "x"}
	if err := ev.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Publish(context.Background(), &ev); !errors.Is(err, ErrNoRelays) {
		t.Fatalf("Publish with no connected relays: %v, want ErrNoRelays", err)
	}

	a.mu.Lock()
	frames := len(a.sendQueue)
	var frame []byte
	if frames > 0 {
		frame = a.sendQueue[0]
	}
	a.mu.Unlock()
	if frames != 1 {
		t.Fatalf("reconnecting relay queued %d frames, want 1", frames)
	}
	env := nostr.ParseMessage(frame)
	ee, ok := env.(*nostr.EventEnvelope)
	if !ok || ee.Event.ID != ev.ID {
		t.Errorf("queued frame = %s, want the EVENT frame", frame)
	}

	b := conn("wss://b.test")
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sendQueue) != 0 {
		t.Errorf("disconnected relay queued %d frames, want 0", len(b.sendQueue))
	}
}

func TestPoolRelaySetManagement(t *testing.T) {
	p := New([]string{"wss://a.test", "wss://a.test/"}, Options{})
	if n := p.relayCount(); n != 1 {
		t.Errorf("duplicate URLs not normalized: count = %d", n)
	}
	if !p.AddRelay("wss://b.test") {
		t.Error("AddRelay(new) = false")
	}
	if p.AddRelay("wss://b.test") {
		t.Error("AddRelay(existing) = true")
	}
	if !p.RemoveRelay("wss://b.test") {
		t.Error("RemoveRelay(existing) = false")
	}
	if p.RemoveRelay("wss://b.test") {
		t.Error("RemoveRelay(missing) = true")
	}
	st := p.Status()
	if st.RelayCount != 1 || st.ConnectedCount != 0 {
		t.Errorf("Status = %+v", st)
	}
}

func TestWaitForMinimumConnectionTimesOut(t *testing.T) {
	p := New([]string{"wss://a.test"}, Options{})
	start := time.Now()
	if p.WaitForMinimumConnection(context.Background(), 1, 150*time.Millisecond) {
		t.Error("floor reported reached with no connections")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestEOSEConvergence(t *testing.T) {
	p := New([]string{"wss://a.test", "wss://b.test", "wss://c.test"}, Options{})
	markConnected := func(url string) {
		p.mu.Lock()
		c := p.conns[nostr.NormalizeURL(url)]
		p.mu.Unlock()
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
	}
	markConnected("wss://a.test")
	markConnected("wss://b.test")

	sub := newSubscription(p, nostr.Filter{}, HandlerFunc(func(*nostr.Event, string) {}), 0)
	defer sub.Close()

	if sub.converged() {
		t.Error("converged before any EOSE")
	}
	sub.eose.Store(nostr.NormalizeURL("wss://a.test"), struct{}{})
	if sub.converged() {
		t.Error("converged with one of two connected relays at EOSE")
	}
	sub.eose.Store(nostr.NormalizeURL("wss://b.test"), struct{}{})
	// Both connected relays EOSEd and 2 ≥ ⌈3/2⌉.
	if !sub.converged() {
		t.Error("not converged after all connected relays delivered EOSE")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	p := New([]string{"wss://a.test"}, Options{})
	sub := newSubscription(p, nostr.Filter{}, HandlerFunc(func(*nostr.Event, string) {}), time.Hour)
	p.mu.Lock()
	p.subs[sub.ID] = sub
	p.mu.Unlock()

	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	p.mu.Lock()
	_, still := p.subs[sub.ID]
	p.mu.Unlock()
	if still {
		t.Error("closed subscription still registered in pool")
	}
}
