package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidStep    = errors.New("invalid step")
	ErrInvalidOffsets = errors.New("invalid offsets")
)

// Step identifies one of the three funnel messages.
type Step int

const (
	Step1 Step = iota + 1
	Step2
	Step3
)

// StepCount is the fixed length of the funnel.
const StepCount = 3

// Steps lists all steps in send order.
var Steps = [StepCount]Step{Step1, Step2, Step3}

// Valid reports whether s is one of Step1..Step3.
func (s Step) Valid() bool {
	return s >= Step1 && s <= Step3
}

func (s Step) index() int { return int(s) - 1 }

// ParseStep converts an integer into a Step.
func ParseStep(n int) (Step, error) {
	s := Step(n)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	return s, nil
}

// Offsets holds the configured delays:
// [0] before the first message, [1] between the 1st and 2nd, [2] between the 2nd and 3rd.
type Offsets [StepCount]time.Duration

// Validate checks that due times built from o are strictly increasing at
// millisecond resolution, which is what the store keeps.
func (o Offsets) Validate() error {
	if o[0] < 0 {
		return fmt.Errorf("%w: offset_1 must be >= 0, got %s", ErrInvalidOffsets, o[0])
	}
	for i := 1; i < StepCount; i++ {
		if o[i] <= 0 {
			return fmt.Errorf("%w: offset_%d must be > 0, got %s", ErrInvalidOffsets, i+1, o[i])
		}
	}
	for i, d := range o {
		if d%time.Millisecond != 0 {
			return fmt.Errorf("%w: offset_%d must be a whole number of milliseconds, got %s", ErrInvalidOffsets, i+1, d)
		}
	}
	return nil
}

// DueTimes applies the interval policy: each due time is the previous one
// (or createdAt for the first) plus its offset.
func DueTimes(createdAt time.Time, o Offsets) [StepCount]time.Time {
	var due [StepCount]time.Time
	base := createdAt.UTC()
	for i, off := range o {
		base = base.Add(off)
		due[i] = base
	}
	return due
}

// Schedule is the per-user send plan. Due is immutable once created.
type Schedule struct {
	UserID int64
	Due    [StepCount]time.Time // UTC
	Sent   [StepCount]bool
}

// NewSchedule builds an unsent schedule for a user created at createdAt.
func NewSchedule(userID int64, createdAt time.Time, o Offsets) Schedule {
	return Schedule{UserID: userID, Due: DueTimes(createdAt, o)}
}

// DueAt returns the due time of step s.
func (s *Schedule) DueAt(step Step) time.Time {
	return s.Due[step.index()]
}

// IsSent reports whether step s was already sent.
func (s *Schedule) IsSent(step Step) bool {
	return s.Sent[step.index()]
}

// MarkSent flips step's flag; it reports false if it was already set.
func (s *Schedule) MarkSent(step Step) bool {
	if s.Sent[step.index()] {
		return false
	}
	s.Sent[step.index()] = true
	return true
}

// NextDue returns the first unsent step if it is due at now (inclusive).
// Later steps are never returned before an earlier one is sent.
func (s *Schedule) NextDue(now time.Time) (Step, bool) {
	for _, step := range Steps {
		if s.IsSent(step) {
			continue
		}
		if !s.DueAt(step).After(now) {
			return step, true
		}
		return 0, false
	}
	return 0, false
}

// Complete reports whether every step has been sent.
func (s *Schedule) Complete() bool {
	for _, sent := range s.Sent {
		if !sent {
			return false
		}
	}
	return true
}
