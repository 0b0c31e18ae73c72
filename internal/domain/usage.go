package domain

import "time"

// UsageLog records the cost of one finished conversion.
type UsageLog struct {
	UserID          string
	JobID           string
	OutputType      string
	PixelsProcessed int64
	InputBytes      int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
