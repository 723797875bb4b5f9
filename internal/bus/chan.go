package bus

import "context"

// ChanPublisher delivers onto buffered channels. Publishing blocks while the
// channel is full and gives up when ctx is done.
type ChanPublisher struct {
	Inbound         chan InboundMessage
	Acks            chan SubmitAck
	DeliveryReports chan DeliveryReport
}

// NewChanPublisher creates channels holding size items each.
func NewChanPublisher(size int) *ChanPublisher {
	return &ChanPublisher{
		Inbound:         make(chan InboundMessage, size),
		Acks:            make(chan SubmitAck, size),
		DeliveryReports: make(chan DeliveryReport, size),
	}
}

func (p *ChanPublisher) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return send(ctx, p.Inbound, msg)
}

func (p *ChanPublisher) PublishSubmitAck(ctx context.Context, ack SubmitAck) error {
	return send(ctx, p.Acks, ack)
}

func (p *ChanPublisher) PublishDeliveryReport(ctx context.Context, dr DeliveryReport) error {
	return send(ctx, p.DeliveryReports, dr)
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Publisher = (*ChanPublisher)(nil)
