package metrics

import "time"

// Outcome classifies how a parameter fared for one pair.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeUnchanged means the grid was already respaced.
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// RespaceEvent is the result of respacing one parameter for one pair.
type RespaceEvent struct {
	RunID      string
	Param      string
	Kind       string
	Node       string
	Technology string
	Outcome    Outcome
	Added      int
	Removed    int
	Passes     int
	// Diagnostics counts degraded estimates keyed by diagnostic name.
	Diagnostics map[string]int
	Time        time.Time
}

// Sink records respacing results for observability purposes.
type Sink interface {
	RecordRespace(events []RespaceEvent) error
}

// ValidationEvent is the outcome of one validator run.
type ValidationEvent struct {
	RunID            string
	Param            string
	Node             string
	Technology       string
	Missing          int
	Extra            int
	RemainingMissing int
	RemainingExtra   int
	Time             time.Time
}

// ValidationRecorder records validator outcomes.
type ValidationRecorder interface {
	RecordValidation(ev ValidationEvent) error
}

// RunEvent summarises a batch run.
type RunEvent struct {
	RunID      string
	Technology string
	Nodes      int
	Skipped    int
	Failed     int
	CommitID   string
	Duration   time.Duration
	Time       time.Time
}

// RunRecorder records run summaries.
type RunRecorder interface {
	RecordRun(ev RunEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRespace([]RespaceEvent) error     { return nil }
func (NopSink) RecordValidation(ValidationEvent) error { return nil }
func (NopSink) RecordRun(RunEvent) error               { return nil }
