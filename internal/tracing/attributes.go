package tracing

// Span attribute keys.
const (
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	AttrAssetID = "asset.id"

	AttrEventSeq    = "event.seq"
	AttrEventType   = "event.type"
	AttrEventActor  = "event.actor"
	AttrEventAmount = "event.amount"
)

// SpanPrefixCommand prefixes every command span name.
const SpanPrefixCommand = "command.process."

// EventCommitted is recorded once per outbox event a command committed.
const EventCommitted = "event.committed"
