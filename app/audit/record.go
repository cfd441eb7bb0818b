package audit

import (
	"net/http"
	"sort"
	"time"
)

// Header is one name/value line of a recorded request or response.
type Header struct {
	Name  string
	Value string
}

type Headers []Header

func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// HeadersOf flattens an http.Header. Names come out sorted (the map carries
// no arrival order); repeated values keep their order per name.
func HeadersOf(src http.Header) Headers {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers Headers
	for _, name := range names {
		for _, value := range src[name] {
			headers.Add(name, value)
		}
	}
	return headers
}

// Record is the snapshot of one proxied transaction. The orchestrator fills
// it in until hand-off to the Logger; after Enqueue it must not be touched.
type Record struct {
	// Time keys the record files together with a per-process sequence
	// number appended by the consumer.
	Time string

	Method  string
	URI     string
	Blocked bool
	// Status is the upstream response status, 0 when no response was
	// obtained (spam short-circuit or forward failure).
	Status int

	Extra           Headers
	RequestHeaders  Headers
	ResponseHeaders Headers
	RequestBody     []byte
	ResponseBody    []byte
}

// TimeKey formats a wall-clock timestamp as the lexicographically sortable
// record key prefix.
func TimeKey(t time.Time) string {
	return t.Format("20060102-150405.000")
}
