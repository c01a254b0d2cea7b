package relay

import "time"

// Options holds the pool tunables. Zero values take the documented
// defaults, so config only has to set what it overrides.
type Options struct {
	ConnectTimeout       time.Duration // max time to reach connected before error
	PingInterval         time.Duration // keep-alive / liveness check interval
	ReconnectDelay       time.Duration // base of exponential backoff
	MaxReconnectDelay    time.Duration // backoff cap
	MaxReconnectAttempts int           // per-connection cap; 0 = unlimited (pool-owned relays)
	PublishDeadline      time.Duration // how long to wait for OK acks per publish
	SubscriptionDeadline time.Duration // default subscription ceiling
	MinRelaysForEOSE     int           // floor on EOSE convergence; 0 = ceil(N/2) with floor 2
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectDelay == 0 {
		o.MaxReconnectDelay = 10 * time.Second
	}
	if o.PublishDeadline == 0 {
		o.PublishDeadline = 4 * time.Second
	}
	if o.SubscriptionDeadline == 0 {
		o.SubscriptionDeadline = 4 * time.Second
	}
	return o
}

// minRelaysForEOSE resolves the convergence floor for a pool of n relays:
// the configured value, or ⌈n/2⌉ with a floor of 2.
func (o Options) minRelaysForEOSE(n int) int {
	if o.MinRelaysForEOSE > 0 {
		return o.MinRelaysForEOSE
	}
	min := (n + 1) / 2
	if min < 2 {
		min = 2
	}
	return min
}
