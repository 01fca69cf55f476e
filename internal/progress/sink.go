package progress

import "context"

// Sink consumes batches of progress events. The hub calls a sink from a
// single goroutine, in emission order.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events without blocking the caller.
type Emitter interface {
	Emit(evt Event)
}
