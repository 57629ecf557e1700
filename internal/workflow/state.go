package workflow

import "github.com/example/damage-check/internal/report"

// Phase is the discriminant of a workflow State.
type Phase int

const (
	Idle Phase = iota
	Scanning
	Analyzing
	Complete
	NoVehicleDetected
	TechnicalError
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Analyzing:
		return "analyzing"
	case Complete:
		return "complete"
	case NoVehicleDetected:
		return "no_vehicle_detected"
	case TechnicalError:
		return "technical_error"
	default:
		return "unknown"
	}
}

// Pending reports whether an analyze call is outstanding in this phase.
func (p Phase) Pending() bool {
	return p == Scanning || p == Analyzing
}

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	return p == Complete || p == NoVehicleDetected || p == TechnicalError
}

// State is the single active workflow state. Result is set only in Complete and
// Message only in NoVehicleDetected and TechnicalError.
type State struct {
	Phase     Phase
	AttemptID string
	Result    *report.Result
	Message   string
}
