package app

import (
	"math"
	"sync"
	"time"

	"github.com/marginalia/quill/go/ot"
)

// Traffic signal constants. When load is high the signal duty-cycles:
// at least minOnMsec of admission, then an off period computed from
// the load factor.
const (
	minLFForDuty = 75
	maxLFForDuty = 150
	minDutyOff   = 0.10
	maxDutyOff   = 0.50
	minOnMsec    = 60_000

	// neverMsec is the "allow at" sentinel while unhealthy or
	// shutting down.
	neverMsec = int64(math.MaxInt64)
)

// DutyCycleOffMsec maps a load factor to how long the signal stays
// off. Below the duty-cycling floor the off period is zero; at and
// above the ceiling it is the full on-period.
func DutyCycleOffMsec(loadFactor int) int64 {
	if loadFactor < minLFForDuty {
		return 0
	}
	var scaled = float64(loadFactor-minLFForDuty) / float64(maxLFForDuty-minLFForDuty)
	if scaled > 1 {
		scaled = 1
	}
	var f = scaled*(maxDutyOff-minDutyOff) + minDutyOff
	return int64(math.Round(f * minOnMsec / (1 - f)))
}

// TrafficSignal is the admission-control state machine. Its inputs are
// process health, the shutdown flag, and the load factor; its output
// is a single boolean, with hysteresis so it never flaps faster than
// the configured on-period.
type TrafficSignal struct {
	loadFactor func() int

	mu           sync.Mutex
	health       bool
	shuttingDown bool
	allow        bool
	allowAt      int64
	forceUntil   int64
	lastNow      int64
	reason       string
}

// NewTrafficSignal builds a signal over a load factor source. The
// signal starts healthy and off, admitting on the first evaluation.
func NewTrafficSignal(loadFactor func() int) *TrafficSignal {
	return &TrafficSignal{
		loadFactor: loadFactor,
		health:     true,
		reason:     "not yet evaluated",
	}
}

// SetHealth reports process health into the signal.
func (s *TrafficSignal) SetHealth(healthy bool) {
	s.mu.Lock()
	s.health = healthy
	s.mu.Unlock()
}

// SetShuttingDown flips the signal hard off for the rest of the
// process lifetime.
func (s *TrafficSignal) SetShuttingDown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
}

// ShouldAllowTraffic evaluates the signal at the current wall clock.
func (s *TrafficSignal) ShouldAllowTraffic() (bool, string) {
	var allow, err = s.ShouldAllowTrafficAt(time.Now().UnixMilli())
	if err != nil {
		return false, err.Error()
	}
	return allow, s.Reason()
}

// Reason for the last evaluation's output.
func (s *TrafficSignal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ShouldAllowTrafficAt evaluates the signal at now, in milliseconds.
// now must not decrease across calls.
func (s *TrafficSignal) ShouldAllowTrafficAt(now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now < s.lastNow {
		return false, ot.BadUsef("signal evaluated at %d after %d", now, s.lastNow)
	}
	s.lastNow = now

	// Shutdown and ill health force the signal off with no scheduled
	// recovery.
	if s.shuttingDown {
		s.allow, s.allowAt, s.reason = false, neverMsec, "shutting down"
		return false, nil
	}
	if !s.health {
		s.allow, s.allowAt, s.reason = false, neverMsec, "unhealthy"
		return false, nil
	}
	if s.allowAt == neverMsec {
		s.allowAt = now // Recovered; eligible immediately.
	}

	// An on-period in force stays on regardless of load.
	if s.allow && now < s.forceUntil {
		s.reason = "holding minimum on-period"
		return true, nil
	}

	if !s.allow {
		if now < s.allowAt {
			s.reason = "duty-cycle off-period"
			return false, nil
		}
		s.allow, s.forceUntil = true, now+minOnMsec
		s.reason = "admitting"
		return true, nil
	}

	// On, and past the forced window: consult the load factor.
	var lf = s.loadFactor()
	if lf <= minLFForDuty {
		s.reason = "load is nominal"
		return true, nil
	}
	var off = DutyCycleOffMsec(lf)
	s.allow, s.allowAt = false, now+off
	s.reason = "shedding load"
	return false, nil
}

// snapshot returns the current state for /var.
func (s *TrafficSignal) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"allow":        s.allow,
		"reason":       s.reason,
		"health":       s.health,
		"shuttingDown": s.shuttingDown,
	}
}
