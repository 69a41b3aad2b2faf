package cnst

// Tracer names used across the services
const (
	// TraceServer is the tracer name for the HTTP and WebSocket transport
	TraceServer = "pushgate/server"
	// TraceBroker is the tracer name for the broker engine
	TraceBroker = "pushgate/broker"
)

// Span names
const (
	SpanPublish      = "pushgate.publish"
	SpanBatchPublish = "pushgate.batch_publish"
)
