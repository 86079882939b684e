package ctxkey

const (
	// RequestId is the per-request unique identifier.
	// Set in: middleware/request-id. Echoed on every response and error
	// envelope, and stamped on accounting records.
	RequestId = "X-Proxed-Request-Id"

	// Session holds the resolved *meta.Session for the current request.
	// Set in: middleware/auth after the split-key/attestation checks pass.
	// Read in: relay/controller when building the outbound request and the
	// accounting record.
	Session = "session"

	// Project holds the *model.Project authorization snapshot fetched during
	// auth resolution, so the orchestrator does not re-query storage.
	Project = "project"
)
