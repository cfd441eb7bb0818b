package database

import "time"

// Message is the audit index row for one proxied transaction. The full
// request/response dump lives in the record directory under the same time
// key; this row exists for counting and lookups.
type Message struct {
	ID           int64
	TimeKey      string
	Method       string
	URI          string
	Status       int
	Blocked      bool
	RequestSize  int
	ResponseSize int
	CreatedAt    time.Time
}

// Stats summarizes the audit index for the stats endpoint.
type Stats struct {
	Total       int64  `json:"total"`
	Blocked     int64  `json:"blocked"`
	LastTimeKey string `json:"last_time_key"`
}
