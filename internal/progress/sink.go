package progress

import "context"

// Sink consumes batches of progress ticks. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently for
// different jobs.
type Sink interface {
	Consume(ctx context.Context, batch []Tick) error
	Close(ctx context.Context) error
}

// Reporter is the narrow view of a Ticker that the importer drives.
type Reporter interface {
	Advance(ctx context.Context, processed, rowErrors int64)
	Log(line string)
}
