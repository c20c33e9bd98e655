package chunk

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange reports an unusable date range or chunk length.
var ErrInvalidRange = errors.New("invalid date range")

type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// Chunk is one bounded sub-range of a split DateRange. Index is 1-based.
type Chunk struct {
	DateRange
	Index int
	Total int
}

// Split cuts r into consecutive chunks of at most maxDays each. Adjacent
// chunks share their boundary instant, so together they cover r exactly
// once with no gaps and no overlaps. The final chunk is clamped to r.End
// and may be shorter than maxDays.
func Split(r DateRange, maxDays int) ([]Chunk, error) {
	if maxDays <= 0 {
		return nil, fmt.Errorf("%w: chunk length must be positive, got %d days", ErrInvalidRange, maxDays)
	}
	if !r.Start.Before(r.End) {
		return nil, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}

	var chunks []Chunk
	for cur := r.Start; cur.Before(r.End); {
		end := cur.AddDate(0, 0, maxDays)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, Chunk{DateRange: DateRange{Start: cur, End: end}})
		cur = end
	}
	for i := range chunks {
		chunks[i].Index = i + 1
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}
