package expense

import "fmt"

// Summary aggregates the lines of one batch.
type Summary struct {
	Lines   int
	Created int
	Skipped int
	Errors  int
}

// Summarize counts lines by state. Counts are always derived from lines,
// never kept as separate running totals.
func Summarize(lines []BatchLine) Summary {
	s := Summary{Lines: len(lines)}
	for _, l := range lines {
		switch l.State {
		case LineDone:
			s.Created++
		case LineSkipped:
			s.Skipped++
		case LineError:
			s.Errors++
		}
	}
	return s
}

// FinalState is error when any line failed, done otherwise.
func (s Summary) FinalState() BatchState {
	if s.Errors > 0 {
		return BatchError
	}
	return BatchDone
}

// Banner is the one-line outcome shown to the user after an import.
func (s Summary) Banner() string {
	switch {
	case s.Errors > 0:
		return fmt.Sprintf("Import finished with errors: %d created, %d skipped, %d errors", s.Created, s.Skipped, s.Errors)
	case s.Skipped > 0:
		return fmt.Sprintf("Import succeeded: %d created, %d skipped (duplicates)", s.Created, s.Skipped)
	default:
		return fmt.Sprintf("Import succeeded: %d created", s.Created)
	}
}

func (s Summary) apply(b *BatchJob) {
	b.LineCount = s.Lines
	b.SuccessCount = s.Created
	b.SkippedCount = s.Skipped
	b.ErrorCount = s.Errors
	b.State = s.FinalState()
}
