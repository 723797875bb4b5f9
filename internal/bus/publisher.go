package bus

import (
	"context"
	"log/slog"
)

// Publisher receives everything a session produces.
type Publisher interface {
	PublishInbound(ctx context.Context, msg InboundMessage) error
	PublishSubmitAck(ctx context.Context, ack SubmitAck) error
	PublishDeliveryReport(ctx context.Context, dr DeliveryReport) error
}

// LogPublisher is a Publisher that only logs. Useful when no broker is
// configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) PublishInbound(ctx context.Context, msg InboundMessage) error {
	slog.InfoContext(ctx, "Inbound message",
		slog.String("message_id", msg.MessageID),
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("type", msg.Type),
		slog.String("session_event", msg.SessionEvent),
		slog.Int("parts", msg.Parts),
		slog.String("content", msg.Content))
	return nil
}

func (p *LogPublisher) PublishSubmitAck(ctx context.Context, ack SubmitAck) error {
	attrs := []any{
		slog.Uint64("seq_num", uint64(ack.Sequence)),
		slog.String("command", ack.CommandID.String()),
		slog.String("status", ack.Status.String()),
		slog.String("message_id", ack.MessageID),
	}
	if ack.Err != nil {
		attrs = append(attrs, slog.Any("error", ack.Err))
	}
	if len(ack.Unsuccessful) > 0 {
		attrs = append(attrs, slog.Int("unsuccessful", len(ack.Unsuccessful)))
	}
	slog.InfoContext(ctx, "Submit acknowledged", attrs...)
	return nil
}

func (p *LogPublisher) PublishDeliveryReport(ctx context.Context, dr DeliveryReport) error {
	slog.InfoContext(ctx, "Delivery report",
		slog.String("message_id", dr.MessageID),
		slog.String("state", dr.MessageState),
		slog.String("status", dr.Status))
	return nil
}

// Compile-time check
var _ Publisher = (*LogPublisher)(nil)
