package helper

import (
	"time"

	"github.com/google/uuid"
)

// RequestIdKey is both the context key and the response header carrying the
// per-request identifier.
const RequestIdKey = "X-Proxed-Request-Id"

// GenRequestID returns a fresh identifier for an inbound request.
func GenRequestID() string {
	return uuid.NewString()
}

// GetTimestamp get current timestamp in seconds
func GetTimestamp() int64 {
	return time.Now().Unix()
}

// CalcElapsedTime return the elapsed time in milliseconds (ms)
func CalcElapsedTime(start time.Time) int64 {
	elapsed := time.Since(start)
	ms := elapsed.Milliseconds()
	if ms == 0 && elapsed > 0 {
		// Sub-millisecond calls still report non-zero latency.
		return 1
	}
	return ms
}
