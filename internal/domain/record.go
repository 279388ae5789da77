package domain

// Record is a tracked time span from the TimeTagger records endpoint.
// T1 is the start and T2 the end, both in Unix seconds; either may be absent.
type Record struct {
	Key string
	T1  *int64
	T2  *int64
	DS  string // description, carries the #tags
}

// Span builds a Record with both bounds set.
func Span(t1, t2 int64) Record {
	return Record{T1: &t1, T2: &t2}
}
