package observability

// Span and attribute names for the traces this module emits. Kept as
// constants so callers never hand-roll a string that drifts from what
// metrics.go groups by.
const (
	SpanProviderCall = "provider.call"
	SpanToolCall     = "tool.call"
	SpanHTTPRequest  = "http.request"

	AttrModel       = "model"
	AttrToolName    = "tool.name"
	AttrSessionID   = "session.id"
	AttrHTTPMethod  = "http.method"
	AttrHTTPPath    = "http.path"
	AttrHTTPStatus  = "http.status_code"
	AttrErrorType   = "error.type"
)
