package progress

import (
	"context"
	"fmt"
)

type sinkFunc func(context.Context, []Tick) error

func (f sinkFunc) Consume(ctx context.Context, batch []Tick) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleTicker demonstrates reporting an import from start to completion.
func ExampleTicker() {
	var stages []Stage
	capture := sinkFunc(func(_ context.Context, batch []Tick) error {
		for _, tick := range batch {
			stages = append(stages, tick.Stage)
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchRows: 2}, capture)
	ticker := hub.Ticker("00000000-0000-0000-0000-000000000001")
	ctx := context.Background()

	if err := ticker.Start(ctx, 2, "Processing"); err != nil {
		panic(err)
	}
	ticker.Advance(ctx, 2, 0)
	if err := ticker.Complete(ctx, "Import completed"); err != nil {
		panic(err)
	}

	fmt.Println(stages)
	// Output:
	// [JOB_START JOB_PROGRESS JOB_DONE]
}
