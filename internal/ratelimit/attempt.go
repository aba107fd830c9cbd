package ratelimit

import "time"

// Policy is the sliding-window attempt policy.
type Policy struct {
	Window        time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Window:        time.Hour,
		MaxAttempts:   5,
		BlockDuration: time.Hour,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BlockDuration <= 0 {
		p.BlockDuration = def.BlockDuration
	}
	return p
}

// Counter is the persisted state for one (ip, identity) key.
type Counter struct {
	Attempts       int
	FirstAttemptAt time.Time
	BlockedUntil   *time.Time
}

type Decision struct {
	Blocked      bool
	Attempts     int
	BlockedUntil *time.Time
}

// RetryAfter is the time left on an active block.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if !d.Blocked || d.BlockedUntil == nil {
		return 0
	}
	if wait := d.BlockedUntil.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Evaluate applies one attempt at now. It returns the counter to persist and
// whether it differs from current. An active block rejects without counting.
func Evaluate(now time.Time, current *Counter, policy Policy) (Counter, bool, Decision) {
	policy = policy.normalized()

	if current == nil {
		next := Counter{Attempts: 1, FirstAttemptAt: now}
		return next, true, decide(next, policy)
	}

	if current.BlockedUntil != nil && now.Before(*current.BlockedUntil) {
		return *current, false, Decision{
			Blocked:      true,
			Attempts:     current.Attempts,
			BlockedUntil: current.BlockedUntil,
		}
	}

	if current.BlockedUntil != nil || now.Sub(current.FirstAttemptAt) >= policy.Window {
		next := Counter{Attempts: 1, FirstAttemptAt: now}
		return next, true, decide(next, policy)
	}

	next := Counter{
		Attempts:       current.Attempts + 1,
		FirstAttemptAt: current.FirstAttemptAt,
	}
	if next.Attempts >= policy.MaxAttempts {
		until := now.Add(policy.BlockDuration)
		next.BlockedUntil = &until
	}
	return next, true, decide(next, policy)
}

// Inspect reports the state of current at now without counting an attempt.
func Inspect(now time.Time, current *Counter, policy Policy) Decision {
	policy = policy.normalized()
	switch {
	case current == nil:
		return Decision{}
	case current.BlockedUntil != nil && now.Before(*current.BlockedUntil):
		return Decision{
			Blocked:      true,
			Attempts:     current.Attempts,
			BlockedUntil: current.BlockedUntil,
		}
	case current.BlockedUntil != nil, now.Sub(current.FirstAttemptAt) >= policy.Window:
		return Decision{}
	default:
		return Decision{Attempts: current.Attempts}
	}
}

func decide(c Counter, policy Policy) Decision {
	return Decision{
		Blocked:      c.BlockedUntil != nil,
		Attempts:     c.Attempts,
		BlockedUntil: c.BlockedUntil,
	}
}
