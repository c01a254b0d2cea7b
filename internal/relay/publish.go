package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// RejectReason buckets a relay's OK/NOK reason string.
type RejectReason string

const (
	RejectDuplicate   RejectReason = "duplicate"
	RejectPoW         RejectReason = "pow"
	RejectBlocked     RejectReason = "blocked"
	RejectRateLimited RejectReason = "rate_limited"
	RejectInvalid     RejectReason = "invalid"
	RejectNoAck       RejectReason = "no_ack"
	RejectOther       RejectReason = "other"
)

// ClassifyRejection maps a relay's machine-readable reason prefix to a
// bucket. Unknown prefixes land in "other".
func ClassifyRejection(reason string) RejectReason {
	switch {
	case reason == "no_ack":
		return RejectNoAck
	case strings.HasPrefix(reason, "duplicate:"):
		return RejectDuplicate
	case strings.HasPrefix(reason, "pow:"):
		return RejectPoW
	case strings.HasPrefix(reason, "blocked:"):
		return RejectBlocked
	case strings.HasPrefix(reason, "rate-limited:"):
		return RejectRateLimited
	case strings.HasPrefix(reason, "invalid:"):
		return RejectInvalid
	default:
		return RejectOther
	}
}

const publishRetryPause = 500 * time.Millisecond

// Publisher is the publish engine: a thin wrapper over the pool that
// retries once on total failure and classifies rejection reasons.
type Publisher struct {
	pool *Pool
}

// NewPublisher wraps a pool.
func NewPublisher(pool *Pool) *Publisher { return &Publisher{pool: pool} }

// Publish sends a signed event through the pool. On ErrPublishFailed it
// pauses briefly and retries exactly once — unless every rejection was
// classified invalid, which no retry can fix.
func (p *Publisher) Publish(ctx context.Context, ev *nostr.Event) (PublishResult, error) {
	result, err := p.pool.Publish(ctx, ev)
	if err == nil || !errors.Is(err, ErrPublishFailed) {
		return result, err
	}
	if allInvalid(result) {
		return result, err
	}
	select {
	case <-ctx.Done():
		return result, err
	case <-time.After(publishRetryPause):
	}
	return p.pool.Publish(ctx, ev)
}

func allInvalid(result PublishResult) bool {
	if len(result.Rejected) == 0 {
		return false
	}
	for _, rej := range result.Rejected {
		if ClassifyRejection(rej.Reason) != RejectInvalid {
			return false
		}
	}
	return true
}
