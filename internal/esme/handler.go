package esme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/pdu"
)

var (
	// ErrNotBound is returned, with sequence number 0, when a request is
	// made in a state that does not allow it. Nothing is written.
	ErrNotBound = errors.New("session not bound for this operation")
	// ErrConnectionLost is the SubmitAck error for requests still pending
	// when the connection closed.
	ErrConnectionLost = errors.New("connection lost before response")
	// ErrResponseTimeout is the SubmitAck error for requests that outlived
	// Config.RequestTimeout.
	ErrResponseTimeout = errors.New("no response within request timeout")
	ErrBindTimeout     = errors.New("bind not acknowledged in time")
	ErrSessionClosed   = errors.New("session closed")
	ErrUnbound         = errors.New("session unbound")
	ErrMessageTooLong  = errors.New("short message longer than 254 octets")
)

// BindError is the close reason when the SMSC rejects the bind.
type BindError struct {
	Status pdu.Status
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind rejected: %s", e.Status)
}

// CommandStatus returns the status of the rejected bind_resp.
func (e *BindError) CommandStatus() pdu.Status {
	return e.Status
}

// Handler receives what a session produces. Calls are made from the
// session's read goroutine, in arrival order, except for acks failed by
// Close or by the request timeout.
type Handler interface {
	OnInbound(ctx context.Context, msg bus.InboundMessage)
	OnSubmitAck(ctx context.Context, ack bus.SubmitAck)
	OnDeliveryReport(ctx context.Context, dr bus.DeliveryReport)
}

// PublishHandler forwards to a bus.Publisher and logs publish failures.
type PublishHandler struct {
	Publisher bus.Publisher
}

func (h PublishHandler) OnInbound(ctx context.Context, msg bus.InboundMessage) {
	if err := h.Publisher.PublishInbound(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish inbound message", slog.String("message_id", msg.MessageID), slog.Any("error", err))
	}
}

func (h PublishHandler) OnSubmitAck(ctx context.Context, ack bus.SubmitAck) {
	if err := h.Publisher.PublishSubmitAck(ctx, ack); err != nil {
		slog.ErrorContext(ctx, "Failed to publish submit ack", slog.Uint64("seq_num", uint64(ack.Sequence)), slog.Any("error", err))
	}
}

func (h PublishHandler) OnDeliveryReport(ctx context.Context, dr bus.DeliveryReport) {
	if err := h.Publisher.PublishDeliveryReport(ctx, dr); err != nil {
		slog.ErrorContext(ctx, "Failed to publish delivery report", slog.String("message_id", dr.MessageID), slog.Any("error", err))
	}
}

// Compile-time check
var _ Handler = PublishHandler{}
