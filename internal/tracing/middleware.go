package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/handler"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
)

// MiddlewareConfig configures the tracing middleware.
type MiddlewareConfig struct {
	// Tracer creates the spans. A nil Tracer makes the middleware a pass-through.
	Tracer trace.Tracer
}

// NewMiddleware opens one span per command named command.process.<type>.
// The span carries the command and target asset attributes, one event per
// committed outbox event, and an error status when the command fails.
// The trace id is stamped back onto the command so the command log can
// correlate with exported traces.
func NewMiddleware(cfg MiddlewareConfig) processor.Middleware {
	if cfg.Tracer == nil {
		return func(next processor.CommandHandler) processor.CommandHandler {
			return next
		}
	}

	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			ctx = withParent(ctx, cmd)

			ctx, span := cfg.Tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(commandAttributes(cmd)...),
			)
			defer span.End()

			if setter, ok := cmd.(interface{ SetTraceID(string) }); ok && span.SpanContext().HasTraceID() {
				setter.SetTraceID(span.SpanContext().TraceID().String())
			}

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result == nil:
				span.SetStatus(codes.Error, "handler returned no result")
			case !result.Success && result.Error != nil:
				span.RecordError(result.Error)
				span.SetStatus(codes.Error, result.Error.Error())
			case !result.Success:
				span.SetStatus(codes.Error, "command failed without error details")
			default:
				recordCommitted(span, result)
				span.SetStatus(codes.Ok, "")
			}

			if result != nil {
				sc := span.SpanContext()
				for _, followUp := range result.FollowUp {
					if setter, ok := followUp.(interface{ SetSpanContext(trace.SpanContext) }); ok {
						setter.SetSpanContext(sc)
					}
				}
			}

			return result, err
		})
	}
}

func commandAttributes(cmd command.Command) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCommandID, cmd.ID()),
		attribute.String(AttrCommandType, cmd.Type().String()),
	}
	if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
		attrs = append(attrs, attribute.String(AttrCommandSource, hasSource.Source().String()))
	}
	if id, ok := command.TargetAsset(cmd); ok {
		attrs = append(attrs, attribute.Int64(AttrAssetID, int64(id)))
	}
	return attrs
}

func recordCommitted(span trace.Span, result *command.CommandResult) {
	for _, evt := range handler.EventsOf(result) {
		attrs := []attribute.KeyValue{
			attribute.Int64(AttrEventSeq, int64(evt.Seq)),
			attribute.String(AttrEventType, string(evt.Type)),
			attribute.String(AttrEventActor, evt.Actor.String()),
		}
		if evt.AssetID != 0 {
			attrs = append(attrs, attribute.Int64(AttrAssetID, int64(evt.AssetID)))
		}
		if evt.Amount != nil {
			attrs = append(attrs, attribute.String(AttrEventAmount, evt.Amount.Dec()))
		}
		span.AddEvent(EventCommitted, trace.WithAttributes(attrs...))
	}
}

// withParent makes a span context carried by a follow-up command the parent
// of the next span.
func withParent(ctx context.Context, cmd command.Command) context.Context {
	if carrier, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := carrier.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}
