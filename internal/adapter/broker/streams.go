package broker

// Stream keys for the two review-mode streams (§6 External Interfaces).
const (
	StreamDiffRequests    = "review:requests"
	StreamAgenticRequests = "review:agent-requests"
)

// ResultHashKey returns the hash key a ReviewResult is written under.
func ResultHashKey(requestID string) string {
	return "review:results:" + requestID
}

// StatusChannel returns the pub-sub channel a request's terminal status is
// published on.
func StatusChannel(requestID string) string {
	return "review:status:" + requestID
}
