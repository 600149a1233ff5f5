package memory

// SummaryTrigger decides when a summarization boundary was crossed. Pure
// counter logic: comparing floors instead of exact multiples means several
// commits between checks can never skip a boundary.
type SummaryTrigger struct {
	every int64
}

// NewSummaryTrigger fires every `every` committed turns (the cadence M).
func NewSummaryTrigger(every int64) SummaryTrigger {
	if every <= 0 {
		every = 50
	}
	return SummaryTrigger{every: every}
}

// Every returns the cadence M.
func (t SummaryTrigger) Every() int64 { return t.every }

// Crossed reports whether moving the committed-turn counter from prev to
// total crossed at least one boundary, and returns the last boundary seq
// (the end of the range the new summary should cover).
func (t SummaryTrigger) Crossed(prev, total int64) (endSeq int64, crossed bool) {
	if total <= prev {
		return 0, false
	}
	if total/t.every <= prev/t.every {
		return 0, false
	}
	return (total / t.every) * t.every, true
}
