package logformat

import "time"

// Record is one parsed access log line.
type Record struct {
	ClientAddress string
	UserID        string
	Timestamp     time.Time
	Method        string
	Category      string // empty when the format has no category segment
	Path          string
	StatusCode    int32
	ResponseBytes int64
}

func (r Record) Day() int32 {
	return int32(r.Timestamp.Day())
}

// Month is 1-based.
func (r Record) Month() int32 {
	return int32(r.Timestamp.Month())
}

func (r Record) Year() int32 {
	return int32(r.Timestamp.Year())
}
