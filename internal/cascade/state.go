package cascade

import (
	"time"

	"github.com/sawpanic/derivintel/internal/model"
)

// quietPeriod is how long a symbol must go without a probability update
// before its state machine forces a return to IDLE with an EASING signal.
const quietPeriod = 60 * time.Second

// StateMachine tracks one symbol's severity ladder and decides when a
// CascadeSignal should be emitted. A signal fires on every upward
// transition and on a downward transition of two or more levels or a
// quiet-period timeout; it never fires twice in a row for the same
// severity.
type StateMachine struct {
	Symbol string

	current       model.Severity
	lastEmitted   model.Severity
	everEmitted   bool
	lastUpdate    time.Time
}

// NewStateMachine starts a symbol at SeverityNone.
func NewStateMachine(symbol string) *StateMachine {
	return &StateMachine{Symbol: symbol, current: model.SeverityNone}
}

// Observe feeds a fresh probability reading at time now and returns the
// signal to emit, if any.
func (s *StateMachine) Observe(p float64, now time.Time, corr float64, leadingVenue string) *model.CascadeSignal {
	s.lastUpdate = now
	next := model.SeverityFromProbability(p)

	var sig *model.CascadeSignal
	switch {
	case next > s.current:
		sig = s.emit(next, p, false, corr, leadingVenue, now)
	case s.current-next >= 2:
		sig = s.emit(next, p, true, corr, leadingVenue, now)
	}
	s.current = next
	return sig
}

// CheckQuiet forces IDLE with an EASING signal if now is quietPeriod past
// the last Observe call and the symbol is not already IDLE.
func (s *StateMachine) CheckQuiet(now time.Time) *model.CascadeSignal {
	if s.current == model.SeverityNone {
		return nil
	}
	if s.lastUpdate.IsZero() || now.Sub(s.lastUpdate) < quietPeriod {
		return nil
	}
	sig := s.emit(model.SeverityNone, 0, true, 0, "", now)
	s.current = model.SeverityNone
	return sig
}

func (s *StateMachine) emit(sev model.Severity, p float64, easing bool, corr float64, leadingVenue string, now time.Time) *model.CascadeSignal {
	if s.everEmitted && s.lastEmitted == sev {
		return nil
	}
	s.lastEmitted = sev
	s.everEmitted = true
	return &model.CascadeSignal{
		Symbol:       s.Symbol,
		Severity:     sev,
		Probability:  p,
		Easing:       easing,
		LeadingVenue: leadingVenue,
		Correlation:  corr,
		EmittedAt:    now,
	}
}
