package input

import (
	"errors"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Range selects a window of rows by 1-based position. End is inclusive;
// Count is used only when End is unset. Zero values mean "from the first row"
// and "to the last row".
type Range struct {
	Start int
	End   int
	Count int
}

// Validate rejects ranges that cannot select anything sensible.
func (r Range) Validate() error {
	switch {
	case r.Start < 0:
		return validator.NewConfigurationError("input.start", errors.New("start must be >= 1"))
	case r.End < 0 || r.Count < 0:
		return validator.NewConfigurationError("input.end", errors.New("end and count must be >= 0"))
	case r.End > 0 && r.Count > 0:
		return validator.NewConfigurationError("input.count", errors.New("set either end or count, not both"))
	case r.End > 0 && r.End < r.startRow():
		return validator.NewConfigurationError("input.end", errors.New("end must be >= start"))
	}
	return nil
}

func (r Range) startRow() int {
	if r.Start < 1 {
		return 1
	}
	return r.Start
}

// Slice applies r to items. It assumes r is valid.
func Slice(items []validator.WorkItem, r Range) []validator.WorkItem {
	from := r.startRow() - 1
	if from >= len(items) {
		return nil
	}
	to := len(items)
	switch {
	case r.End > 0:
		to = min(r.End, len(items))
	case r.Count > 0:
		to = min(from+r.Count, len(items))
	}
	return items[from:to]
}
