package usecase

import (
	"context"
	"time"

	"cosmosai/internal/domain"
)

// sessionRecord is the single voice session slot. The state value doubles as
// the in-flight flag and generation invalidates stale continuations. It is
// guarded by SessionController.mu.
type sessionRecord struct {
	generation     uint64
	state          domain.SessionState
	mode           domain.Mode
	modeSelectable bool
	activity       domain.Activity

	cancel  context.CancelFunc
	timeout *time.Timer
}

func newSessionRecord() sessionRecord {
	return sessionRecord{
		state:          domain.SessionStateIdle,
		modeSelectable: true,
		activity:       domain.ActivityListening,
	}
}

// begin moves Idle to Connecting and returns the new generation.
func (s *sessionRecord) begin(mode domain.Mode, cancel context.CancelFunc) uint64 {
	s.generation++
	s.state = domain.SessionStateConnecting
	s.mode = mode
	s.modeSelectable = false
	s.activity = domain.ActivityListening
	s.cancel = cancel
	return s.generation
}

func (s *sessionRecord) activate() {
	s.state = domain.SessionStateActive
	s.activity = domain.ActivityListening
	s.stopTimer()
}

// reset returns the slot to Idle and invalidates every pending continuation
// of the previous generation.
func (s *sessionRecord) reset(rearmMode bool) {
	s.generation++
	s.state = domain.SessionStateIdle
	s.activity = domain.ActivityListening
	if rearmMode {
		s.modeSelectable = true
	}
	s.stopTimer()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *sessionRecord) matches(generation uint64, states ...domain.SessionState) bool {
	if s.generation != generation {
		return false
	}
	for _, state := range states {
		if s.state == state {
			return true
		}
	}
	return false
}

func (s *sessionRecord) stopTimer() {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}
