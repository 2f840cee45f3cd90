package nifi

import (
	"net/http"
	"strings"
)

// writeOutcome is the classification of a failed revisioned write.
type writeOutcome int

const (
	// writeFatal means the failure must be surfaced immediately.
	writeFatal writeOutcome = iota

	// writeRetryable means the revision was stale: refetch and retry.
	writeRetryable
)

// staleRevisionSignature is the message fragment the engine returns when a
// write carries a revision that is no longer current.
const staleRevisionSignature = "not the most up-to-date revision"

// classifyWriteFailure decides whether a failed write is safe to retry after
// refetching the revision. Exactly two signals qualify: HTTP 409, or a
// response body carrying the stale-revision message. Everything else is
// fatal for the resource being written.
func classifyWriteFailure(status int, body string) writeOutcome {
	if status == http.StatusConflict {
		return writeRetryable
	}
	if strings.Contains(strings.ToLower(body), staleRevisionSignature) {
		return writeRetryable
	}
	return writeFatal
}
