package domain

// AlignmentFamily identifies how a timeframe's bars align to the calendar.
type AlignmentFamily string

const (
	// AlignTFDay aligns bars to fixed-length day counts from an asset's
	// first observation (7-day, 30-day bars and the like).
	AlignTFDay AlignmentFamily = "tf_day"

	// AlignCalendar aligns bars to calendar period closes (week, month).
	AlignCalendar AlignmentFamily = "calendar"

	// AlignCalendarAnchor aligns bars to calendar periods anchored to a
	// reference date rather than the period start.
	AlignCalendarAnchor AlignmentFamily = "calendar_anchor"
)

// TimeframeSpec is a read-only reference row describing one timeframe.
// Supplied by the external catalog; immutable for the duration of a run.
type TimeframeSpec struct {
	Code        string          // timeframe code, e.g. "D7", "W1", "M1"
	TFDays      int             // nominal bar length in calendar days
	Family      AlignmentFamily // alignment family
	ValidFromMs int64           // validity lower bound (Unix ms)
	ValidToMs   *int64          // validity upper bound, nil if open-ended
}

// ValidAt reports whether the spec is valid at the given timestamp.
func (s *TimeframeSpec) ValidAt(tsMs int64) bool {
	if tsMs < s.ValidFromMs {
		return false
	}
	if s.ValidToMs != nil && tsMs > *s.ValidToMs {
		return false
	}
	return true
}
