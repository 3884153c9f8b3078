// Package policy describes when cache entries expire and how call sites pick a policy.
//
// A Policy is an immutable value handed to the store at insertion time. A Provider
// produces one per call, which lets call sites swap a fixed TTL for a config-driven
// or jittered one without touching the handler.
package policy

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Kind selects the expiration behavior of a Policy.
type Kind int

const (
	// Disabled bypasses the cache entirely: the factory runs on every call.
	// It is the zero value, so an unset Policy never caches.
	Disabled Kind = iota
	// Absolute expires the entry TTL after it was inserted.
	Absolute
	// Sliding expires the entry TTL after it was last read.
	Sliding
	// Never keeps the entry until it is removed or evicted for capacity.
	Never
)

// ErrInvalid is returned by Validate for a caching policy without a positive TTL.
var ErrInvalid = errors.New("invalid expiration policy")

func (k Kind) String() string {
	switch k {
	case Disabled:
		return "disabled"
	case Absolute:
		return "absolute"
	case Sliding:
		return "sliding"
	case Never:
		return "never"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "disabled", "off":
		return Disabled, nil
	case "absolute", "":
		return Absolute, nil
	case "sliding":
		return Sliding, nil
	case "never":
		return Never, nil
	}
	return Disabled, fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
}

// Policy is a resolved expiration rule.
type Policy struct {
	Kind Kind
	TTL  time.Duration
}

// NewAbsolute returns a policy expiring entries ttl after insertion.
func NewAbsolute(ttl time.Duration) Policy { return Policy{Kind: Absolute, TTL: ttl} }

// NewSliding returns a policy expiring entries ttl after their last read.
func NewSliding(ttl time.Duration) Policy { return Policy{Kind: Sliding, TTL: ttl} }

// NoExpiry returns a policy that never expires entries.
func NoExpiry() Policy { return Policy{Kind: Never} }

// Off returns the disabled policy.
func Off() Policy { return Policy{Kind: Disabled} }

// Enabled reports whether the policy caches at all.
func (p Policy) Enabled() bool { return p.Kind != Disabled }

// Validate checks that a caching policy carries a usable TTL.
func (p Policy) Validate() error {
	switch p.Kind {
	case Disabled, Never:
		return nil
	case Absolute, Sliding:
		if p.TTL <= 0 {
			return fmt.Errorf("%w: %s policy needs a positive ttl, got %s", ErrInvalid, p.Kind, p.TTL)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalid, int(p.Kind))
	}
}

// Policy makes a resolved Policy usable wherever a Provider is expected.
func (p Policy) Policy() Policy { return p }

func (p Policy) String() string {
	if p.Kind == Absolute || p.Kind == Sliding {
		return fmt.Sprintf("%s(%s)", p.Kind, p.TTL)
	}
	return p.Kind.String()
}

// Provider produces the concrete policy for one cache insertion.
type Provider interface {
	Policy() Policy
}

// Func adapts a function to a Provider.
type Func func() Policy

// Policy calls f.
func (f Func) Policy() Policy { return f() }

// Resolve returns the policy of p, treating a nil provider as Disabled.
func Resolve(p Provider) Policy {
	if p == nil {
		return Off()
	}
	return p.Policy()
}

// Jittered spreads the TTL of base uniformly within ±fraction so that entries filled
// together do not all expire together. fraction is clamped to [0, 1).
func Jittered(base Policy, fraction float64) Provider {
	if fraction < 0 {
		fraction = 0
	}
	if fraction >= 1 {
		fraction = 0.99
	}
	return jittered{base: base, fraction: fraction}
}

type jittered struct {
	base     Policy
	fraction float64
}

func (j jittered) Policy() Policy {
	p := j.base
	if j.fraction == 0 || p.TTL <= 0 || (p.Kind != Absolute && p.Kind != Sliding) {
		return p
	}
	spread := float64(p.TTL) * j.fraction
	offset := (rand.Float64()*2 - 1) * spread
	p.TTL += time.Duration(offset)
	if p.TTL <= 0 {
		p.TTL = time.Nanosecond
	}
	return p
}
