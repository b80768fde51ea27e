package metrics

// MultiSink fans results out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRespace forwards the events to all sinks, returning the first error encountered.
func (m *MultiSink) RecordRespace(events []RespaceEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordRespace(events); err != nil {
			return err
		}
	}
	return nil
}

// RecordValidation forwards validator outcomes to sinks that record them.
func (m *MultiSink) RecordValidation(ev ValidationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ValidationRecorder); ok {
			if err := rec.RecordValidation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRun forwards run summaries to sinks that record them.
func (m *MultiSink) RecordRun(ev RunEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(RunRecorder); ok {
			if err := rec.RecordRun(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
