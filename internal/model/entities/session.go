package entities

import "time"

// Session is the process-lifetime state of the control loop.
// Owned and mutated only by the agent loop; never persisted.
type Session struct {
	DryStreak         int        // consecutive offline cycles below threshold
	LastIrrigation    time.Time  // zero when no irrigation happened yet
	IrrigationsToday  int        // reset on local-day rollover
	LastRemoteContact time.Time  // last cycle with a remote verdict
	Relay             RelayState // mirrors the actuator, tracked for logging
}

// HasIrrigated reports whether an irrigation was ever recorded.
func (s Session) HasIrrigated() bool { return !s.LastIrrigation.IsZero() }

// OfflineFor returns how long the backend has been silent at now.
func (s Session) OfflineFor(now time.Time) time.Duration {
	if s.LastRemoteContact.IsZero() {
		return 0
	}
	return now.Sub(s.LastRemoteContact)
}
