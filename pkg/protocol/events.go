package protocol

// WebSocket event names pushed from server to client.
const (
	EventRecorded   = "event.recorded"
	EventHintSet    = "memory.hint.set"
	EventLearned    = "memory.learned"
	EventForgotten  = "memory.forgotten"
	EventFinalized  = "session.finalized"
	EventSwept      = "retention.swept"
	EventHealth     = "health"
	EventHandshake  = "hello"
	EventShutdown   = "shutdown"
)

// RPC method names accepted over the WebSocket surface.
const (
	MethodContextGet   = "context.get"
	MethodEventsRecord = "events.record"
	MethodLearn        = "memory.learn"
	MethodStatsGet     = "stats.get"
)
