package protocol

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/nbd-wtf/go-nostr"
)

const (
	maxTagBytes   = 1 << 10 // single tag
	maxEventBytes = 256 << 10
	slugMaxLen    = 30
)

// BuildEvent constructs and signs an event. created_at is the current
// wall-clock second; consumers tolerate up to ±10 minutes of skew, larger
// drifts risk losing replace races. Validation runs before signing so no
// malformed event is ever put on the wire.
func BuildEvent(kind int, tags nostr.Tags, content string, privKey string) (*nostr.Event, error) {
	ev := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := ValidateTemplate(ev); err != nil {
		return nil, err
	}
	if err := ev.Sign(privKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignFailed, err)
	}
	if len(ev.Serialize()) > maxEventBytes {
		return nil, ErrOversizedEvent
	}
	return ev, nil
}

// ValidateTemplate checks an unsigned event template against the builder
// rules: positive kind, exactly one d tag for addressable kinds, and the
// per-tag size ceiling.
func ValidateTemplate(ev *nostr.Event) error {
	if ev.Kind <= 0 || ev.Kind > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidKind, ev.Kind)
	}
	if IsAddressable(ev.Kind) {
		if n := len(TagValues(ev, "d")); n != 1 {
			return fmt.Errorf("%w: found %d", ErrMissingDTag, n)
		}
	}
	for _, tag := range ev.Tags {
		size := 0
		for _, v := range tag {
			size += len(v)
		}
		if size > maxTagBytes {
			return fmt.Errorf("%w: %q…", ErrOversizedTag, tag[0])
		}
	}
	return nil
}

// TeamDTag derives the d tag for a new team: the slugified name truncated
// to 30 characters plus a short time-derived suffix so two teams with the
// same name never collide on a coordinate.
func TeamDTag(name string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	return Slugify(name, slugMaxLen) + "-" + ts
}

// CompetitionDTag derives the d tag for a new league or event definition:
// <kind>_<slug>_<ts36>_<rand36>.
func CompetitionDTag(kind int, name string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return fmt.Sprintf("%d_%s_%s_%s", kind, Slugify(name, slugMaxLen), ts, randBase36(4))
}

// Slugify lowercases, converts runs of non-alphanumerics to single
// hyphens, and truncates to maxLen without leaving a trailing hyphen.
func Slugify(s string, maxLen int) string {
	var b strings.Builder
	prevHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevHyphen = false
		case !prevHyphen:
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	if slug == "" {
		slug = "team"
	}
	return slug
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randBase36(n int) string {
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(36))
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic("protocol: rand failed: " + err.Error())
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}
