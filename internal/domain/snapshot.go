package domain

import "time"

// Window names the three ranges fetched on every refresh.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// Windows lists the refresh windows in fetch order.
var Windows = []Window{WindowToday, WindowWeek, WindowMonth}

// Snapshot is the coordinator's cached result. It is replaced wholesale on
// every successful refresh and must not be mutated after publication.
type Snapshot struct {
	Records   map[Window][]Record
	FetchedAt time.Time
}

// Window returns the records for w, nil when the window is missing.
func (s *Snapshot) Window(w Window) []Record {
	if s == nil {
		return nil
	}
	return s.Records[w]
}
